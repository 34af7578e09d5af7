// Package artifacts stores binary interview artifacts (frames, audio) in an
// S3-compatible object store, content-addressed by session token.
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store uploads one artifact and returns its retrievable URL.
type Store interface {
	Put(ctx context.Context, token, category string, data []byte, contentType string) (string, error)
}

type Config struct {
	Bucket string
	Region string

	// Endpoint overrides the S3 endpoint for S3-compatible stores (MinIO,
	// R2). Path-style addressing is used when set.
	Endpoint string

	// PublicBaseURL prefixes returned object URLs. Defaults to the
	// virtual-hosted AWS URL for the bucket.
	PublicBaseURL string

	AccessKeyID     string
	SecretAccessKey string
}

type S3Store struct {
	client *s3.Client
	cfg    Config
	now    func() time.Time
}

func NewS3(ctx context.Context, cfg Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("artifact bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, cfg: cfg, now: time.Now}, nil
}

func (s *S3Store) Put(ctx context.Context, token, category string, data []byte, contentType string) (string, error) {
	key := fmt.Sprintf("%s/%s/%d", token, category, s.now().UnixNano())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put artifact %s: %w", key, err)
	}
	return s.objectURL(key), nil
}

func (s *S3Store) objectURL(key string) string {
	if base := strings.TrimRight(s.cfg.PublicBaseURL, "/"); base != "" {
		return base + "/" + key
	}
	if s.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.Endpoint, "/"), s.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}
