package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Config configures an S3Backend.
type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string // custom endpoint for S3-compatible stores
	UsePathStyle  bool
	PublicBaseURL string        // when set, download URLs are PublicBaseURL/key
	PresignExpiry time.Duration // lifetime of presigned download URLs
}

// S3Backend stores objects in an S3 bucket.
type S3Backend struct {
	client    *s3.Client
	presigner *s3.PresignClient
	cfg       S3Config
}

// NewS3Backend loads the default AWS config and returns an S3Backend.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	log.Debug().Str("region", awsCfg.Region).Str("bucket", cfg.Bucket).Msg("AWS config loaded")

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3BackendFromClient(client, cfg), nil
}

// NewS3BackendFromClient returns an S3Backend using an existing client.
func NewS3BackendFromClient(client *s3.Client, cfg S3Config) *S3Backend {
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = 7 * 24 * time.Hour
	}
	return &S3Backend{
		client:    client,
		presigner: s3.NewPresignClient(client),
		cfg:       cfg,
	}
}

func (b *S3Backend) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string, metadata map[string]string) (string, error) {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		Metadata:      metadata,
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return b.URL(ctx, key)
}

// URL returns the download URL of key.
func (b *S3Backend) URL(ctx context.Context, key string) (string, error) {
	if b.cfg.PublicBaseURL != "" {
		return strings.TrimRight(b.cfg.PublicBaseURL, "/") + "/" + key, nil
	}
	result, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(b.cfg.PresignExpiry))
	if err != nil {
		return "", fmt.Errorf("presign download url: %w", err)
	}
	return result.URL, nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete from s3: %w", err)
	}
	return nil
}
