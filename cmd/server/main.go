package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/joho/godotenv"

	"imagetovideo/internal/api"
	"imagetovideo/internal/auth"
	"imagetovideo/internal/blob"
	"imagetovideo/internal/config"
	"imagetovideo/internal/db"
	"imagetovideo/internal/email"
	"imagetovideo/internal/generation"
	"imagetovideo/internal/jsonstore"
	"imagetovideo/internal/ledger"
	"imagetovideo/internal/payment"
	"imagetovideo/internal/storage"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting server", "name", cfg.Server.Name)

	store, err := openStore(cfg.Database)
	if err != nil {
		slog.Error("failed to open user store", "error", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer store.close()
	slog.Info("user store opened", "driver", cfg.Database.Driver, "path", cfg.Database.Path)

	blobService, err := blob.NewService(cfg.Storage.BlobRoot, cfg.Storage.UploadMaxBytes)
	if err != nil {
		slog.Error("failed to initialize blob storage", "error", err)
		os.Exit(1)
	}
	slog.Info("blob storage initialized", "root", cfg.Storage.BlobRoot, "upload_max_bytes", cfg.Storage.UploadMaxBytes)

	cleanupService := db.NewCleanupService(store.events)
	blobCleanupService := blob.NewCleanupService(blobService)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go cleanupService.Start(cleanupCtx)
	go blobCleanupService.Start(cleanupCtx)

	mailer, err := newMailer(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to configure email", "error", err)
		os.Exit(1)
	}
	slog.Info("email configured", "provider", cfg.Email.Provider)

	hosting, err := newHostingClient(context.Background(), cfg.Hosting)
	if err != nil {
		slog.Error("failed to configure hosting storage", "error", err)
		os.Exit(1)
	}

	generator := generation.NewClient(generation.Options{
		APIKey:         cfg.Generation.APIKey,
		APIHost:        cfg.Generation.APIHost,
		Seed:           cfg.Generation.Seed,
		CFGScale:       cfg.Generation.CFGScale,
		MotionBucketID: cfg.Generation.MotionBucketID,
		HTTPClient:     &http.Client{Timeout: cfg.Generation.RequestTimeout},
	})

	packs := make([]payment.Pack, 0, len(cfg.Payment.Packs))
	for _, p := range cfg.Payment.Packs {
		packs = append(packs, payment.Pack{Credits: p.Credits, UnitAmount: p.UnitAmount})
	}
	payments := payment.NewService(payment.NewStripeSessions(cfg.Payment.SecretKey), payment.Options{
		WebhookSecret: cfg.Payment.WebhookSecret,
		Currency:      cfg.Payment.Currency,
		SuccessURL:    cfg.Payment.SuccessURL,
		CancelURL:     cfg.Payment.CancelURL,
		Packs:         packs,
	})

	server, err := api.NewServer(cfg, api.Deps{
		Store:     store.pinger,
		Ledger:    ledger.New(store.users),
		Tokens:    auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.MagicLinkTTL),
		Mailer:    mailer,
		Blobs:     blobService,
		Generator: generator,
		Poller:    generation.NewPoller(generator, blobService),
		Payments:  payments,
		Hosting:   hosting,
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	cleanupCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

type userStore struct {
	users  ledger.Store
	pinger api.Pinger
	events db.EventPurger
	close  func() error
}

func openStore(cfg config.DatabaseConfig) (*userStore, error) {
	switch cfg.Driver {
	case "json":
		s, err := jsonstore.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &userStore{users: s, pinger: s, events: s, close: func() error { return nil }}, nil
	case "sqlite":
		database, err := db.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &userStore{
			users:  db.NewUserRepository(database),
			pinger: database,
			events: db.NewPaymentEventRepository(database),
			close:  database.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func newMailer(ctx context.Context, cfg *config.Config) (email.Sender, error) {
	switch cfg.Email.Provider {
	case "smtp":
		return email.NewSMTPService(
			cfg.Email.SMTP.Host,
			cfg.Email.SMTP.Port,
			cfg.Email.SMTP.Username,
			cfg.Email.SMTP.Password,
			cfg.Email.From,
			cfg.Server.Name,
		), nil
	case "ses":
		awsCfg, err := storage.LoadAWSConfig(ctx, storage.Credentials{
			Region:          cfg.Email.SES.Region,
			AccessKeyID:     cfg.Email.SES.AccessKeyID,
			SecretAccessKey: cfg.Email.SES.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return email.NewSESService(sesv2.NewFromConfig(awsCfg), cfg.Email.From, cfg.Server.Name), nil
	default:
		slog.Warn("magic links are logged, not mailed", "provider", cfg.Email.Provider)
		return email.LogSender{}, nil
	}
}

func newHostingClient(ctx context.Context, cfg config.HostingConfig) (*storage.Client, error) {
	awsCfg, err := storage.LoadAWSConfig(ctx, storage.Credentials{
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}

	return storage.NewClient(storage.NewS3Presigner(awsCfg, cfg.Endpoint, cfg.UsePathStyle), storage.Options{
		Bucket:        cfg.Bucket,
		PublicBaseURL: cfg.PublicBaseURL,
		KeyPrefix:     cfg.KeyPrefix,
		URLTTL:        cfg.URLTTL,
	}), nil
}
