// Package storage issues presigned upload URLs for paid video hosting.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"imagetovideo/internal/links"
)

const (
	DefaultURLTTL = 2 * time.Minute
	videoMimeType = "video/mp4"
)

// Presigner is satisfied by *s3.PresignClient.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Credentials struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// LoadAWSConfig builds an SDK config. Static keys win over the default
// credential chain when both are set.
func LoadAWSConfig(ctx context.Context, creds Credentials) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(creds.Region)}
	if creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	return cfg, nil
}

// NewS3Presigner returns a presign client, optionally pointed at an
// S3-compatible endpoint.
func NewS3Presigner(cfg aws.Config, endpoint string, usePathStyle bool) *s3.PresignClient {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = usePathStyle
	})
	return s3.NewPresignClient(client)
}

type Options struct {
	Bucket        string
	PublicBaseURL string
	KeyPrefix     string
	URLTTL        time.Duration
}

// Upload is a reservation for one hosted video.
type Upload struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	PublicURL string    `json:"publicUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Client struct {
	presigner  Presigner
	bucket     string
	publicBase string
	prefix     string
	ttl        time.Duration
	newID      func() string
}

func NewClient(presigner Presigner, opts Options) *Client {
	ttl := opts.URLTTL
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &Client{
		presigner:  presigner,
		bucket:     opts.Bucket,
		publicBase: opts.PublicBaseURL,
		prefix:     opts.KeyPrefix,
		ttl:        ttl,
		newID:      uuid.NewString,
	}
}

// PresignUpload issues a short-lived PUT URL for a new video object.
func (c *Client) PresignUpload(ctx context.Context) (*Upload, error) {
	key := links.HostedKey(c.prefix, c.newID())

	req, err := c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(videoMimeType),
	}, s3.WithPresignExpires(c.ttl))
	if err != nil {
		return nil, fmt.Errorf("presigning upload: %w", err)
	}

	slog.Info("presigned hosting upload", "component", "storage", "key", key, "ttl", c.ttl)
	return &Upload{
		URL:       req.URL,
		Key:       key,
		PublicURL: links.HostedObject(c.publicBase, key),
		ExpiresAt: time.Now().Add(c.ttl),
	}, nil
}
