package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Email      EmailConfig      `yaml:"email"`
	Generation GenerationConfig `yaml:"generation"`
	Payment    PaymentConfig    `yaml:"payment"`
	Storage    StorageConfig    `yaml:"storage"`
	Hosting    HostingConfig    `yaml:"hosting"`
}

type ServerConfig struct {
	Name           string   `yaml:"name"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	BaseURL        string   `yaml:"base_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (default) or "json"
	Path   string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	MagicLinkTTL time.Duration `yaml:"magic_link_ttl"`
}

type EmailConfig struct {
	Provider string     `yaml:"provider"` // "smtp", "ses" or "log"
	From     string     `yaml:"from"`
	SMTP     SMTPConfig `yaml:"smtp"`
	SES      SESConfig  `yaml:"ses"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type GenerationConfig struct {
	APIKey         string        `yaml:"api_key"`
	APIHost        string        `yaml:"api_host"`
	Seed           int           `yaml:"seed"`
	CFGScale       float64       `yaml:"cfg_scale"`
	MotionBucketID int           `yaml:"motion_bucket_id"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type PaymentConfig struct {
	SecretKey     string       `yaml:"secret_key"`
	WebhookSecret string       `yaml:"webhook_secret"`
	Currency      string       `yaml:"currency"`
	SuccessURL    string       `yaml:"success_url"`
	CancelURL     string       `yaml:"cancel_url"`
	Packs         []CreditPack `yaml:"packs"`
}

// CreditPack is a purchasable bundle; UnitAmount is in the currency's
// smallest unit.
type CreditPack struct {
	Credits    int64 `yaml:"credits"`
	UnitAmount int64 `yaml:"unit_amount"`
}

type StorageConfig struct {
	BlobRoot       string `yaml:"blob_root"`
	UploadMaxBytes int64  `yaml:"upload_max_bytes"`
}

type HostingConfig struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	UsePathStyle    bool          `yaml:"use_path_style"`
	PublicBaseURL   string        `yaml:"public_base_url"`
	KeyPrefix       string        `yaml:"key_prefix"`
	URLTTL          time.Duration `yaml:"url_ttl"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes a YAML document, applies environment overrides, validates
// and fills defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"I2V_JWT_SECRET", &c.Auth.JWTSecret},
		{"I2V_SMTP_PASSWORD", &c.Email.SMTP.Password},
		{"STABILITY_API_KEY", &c.Generation.APIKey},
		{"STRIPE_SECRET_KEY", &c.Payment.SecretKey},
		{"STRIPE_WEBHOOK_SECRET", &c.Payment.WebhookSecret},
		{"AWS_S3_BUCKET", &c.Hosting.Bucket},
		{"AWS_REGION", &c.Hosting.Region},
		{"AWS_ACCESS_KEY_ID", &c.Hosting.AccessKeyID},
		{"AWS_SECRET_ACCESS_KEY", &c.Hosting.SecretAccessKey},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	switch c.Database.Driver {
	case "", "sqlite", "json":
	default:
		return fmt.Errorf("database.driver must be one of sqlite, json")
	}
	if c.Generation.APIKey == "" {
		return fmt.Errorf("generation.api_key is required")
	}
	if c.Payment.SecretKey == "" {
		return fmt.Errorf("payment.secret_key is required")
	}
	if c.Payment.WebhookSecret == "" {
		return fmt.Errorf("payment.webhook_secret is required")
	}
	for _, p := range c.Payment.Packs {
		if p.Credits <= 0 || p.UnitAmount <= 0 {
			return fmt.Errorf("payment.packs entries need positive credits and unit_amount")
		}
	}
	if c.Hosting.Bucket == "" {
		return fmt.Errorf("hosting.bucket is required")
	}

	switch c.Email.Provider {
	case "", "log":
	case "smtp":
		if c.Email.SMTP.Host == "" {
			return fmt.Errorf("email.smtp.host is required")
		}
		if c.Email.SMTP.Port == 0 {
			return fmt.Errorf("email.smtp.port is required")
		}
	case "ses":
		if c.Email.SES.Region == "" && c.Hosting.Region == "" {
			return fmt.Errorf("email.ses.region is required")
		}
	default:
		return fmt.Errorf("email.provider must be one of smtp, ses, log")
	}
	if c.Email.Provider == "smtp" || c.Email.Provider == "ses" {
		if c.Email.From == "" {
			return fmt.Errorf("email.from is required")
		}
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.Name == "" {
		c.Server.Name = "Image to Video"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		if c.Database.Driver == "json" {
			c.Database.Path = "./data/db.json"
		} else {
			c.Database.Path = "./data/imagetovideo.db"
		}
	}

	if c.Auth.MagicLinkTTL == 0 {
		c.Auth.MagicLinkTTL = 120 * time.Minute
	}

	if c.Email.Provider == "" {
		c.Email.Provider = "log"
	}
	if c.Email.From == "" {
		c.Email.From = "noreply@example.com"
	}
	if c.Email.SES.Region == "" {
		c.Email.SES.Region = c.Hosting.Region
	}

	if c.Generation.APIHost == "" {
		c.Generation.APIHost = "https://api.stability.ai"
	}
	c.Generation.APIHost = strings.TrimRight(c.Generation.APIHost, "/")
	if c.Generation.CFGScale == 0 {
		c.Generation.CFGScale = 2.5
	}
	if c.Generation.MotionBucketID == 0 {
		c.Generation.MotionBucketID = 100
	}
	if c.Generation.RequestTimeout == 0 {
		c.Generation.RequestTimeout = 60 * time.Second
	}

	if c.Payment.Currency == "" {
		c.Payment.Currency = "mxn"
	}
	if c.Payment.SuccessURL == "" {
		c.Payment.SuccessURL = c.Server.BaseURL + "/?s=success"
	}
	if c.Payment.CancelURL == "" {
		c.Payment.CancelURL = c.Server.BaseURL + "/?s=cancel"
	}
	if len(c.Payment.Packs) == 0 {
		c.Payment.Packs = []CreditPack{
			{Credits: 10, UnitAmount: 15000},
			{Credits: 20, UnitAmount: 28000},
			{Credits: 100, UnitAmount: 99900},
		}
	}

	if c.Storage.BlobRoot == "" {
		c.Storage.BlobRoot = "./data/blobs"
	}
	if c.Storage.UploadMaxBytes == 0 {
		c.Storage.UploadMaxBytes = 10 << 20
	}

	if c.Hosting.Region == "" {
		c.Hosting.Region = "auto"
	}
	if c.Hosting.PublicBaseURL == "" {
		c.Hosting.PublicBaseURL = fmt.Sprintf("https://%s.t3.storage.dev", c.Hosting.Bucket)
	}
	if c.Hosting.KeyPrefix == "" {
		c.Hosting.KeyPrefix = "image-to-video/paid_hosting"
	}
	if c.Hosting.URLTTL == 0 {
		c.Hosting.URLTTL = 2 * time.Minute
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SecureCookies reports whether session cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.Server.BaseURL, "https://")
}
