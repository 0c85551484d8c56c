// Package archive stores exported backup status documents in an S3 bucket.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Get when the bucket has no object for the key.
var ErrNotFound = errors.New("archived object not found")

// DigestMetadataKey is the object metadata key holding the document digest.
const DigestMetadataKey = "digest"

// ObjectAPI is the subset of *s3.Client used by the archive.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config locates the archive bucket.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// S3Archive writes one object per backup with the digest as object metadata.
type S3Archive struct {
	api    ObjectAPI
	bucket string
	logger zerolog.Logger
}

// New creates an archive backed by an S3-compatible endpoint.
func New(cfg Config, logger zerolog.Logger) *S3Archive {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client := s3.New(s3.Options{
		BaseEndpoint: aws.String(cfg.Endpoint),
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	})
	return NewWithAPI(client, cfg.Bucket, logger)
}

// NewWithAPI creates an archive over an existing object API.
func NewWithAPI(api ObjectAPI, bucket string, logger zerolog.Logger) *S3Archive {
	return &S3Archive{
		api:    api,
		bucket: bucket,
		logger: logger.With().Str("component", "metadata-archive").Logger(),
	}
}

func (a *S3Archive) Put(ctx context.Context, key string, body []byte, digest string) error {
	_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
		Metadata:      map[string]string{DigestMetadataKey: digest},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	a.logger.Info().Str("bucket", a.bucket).Str("key", key).Int("bytes", len(body)).Msg("metadata archived")
	return nil
}

func (a *S3Archive) Get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := a.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, "", fmt.Errorf("get s3://%s/%s: %w", a.bucket, key, ErrNotFound)
		}
		return nil, "", fmt.Errorf("get s3://%s/%s: %w", a.bucket, key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read s3://%s/%s: %w", a.bucket, key, err)
	}
	digest := out.Metadata[DigestMetadataKey]
	if digest == "" {
		return nil, "", fmt.Errorf("s3://%s/%s has no %s metadata", a.bucket, key, DigestMetadataKey)
	}
	return body, digest, nil
}
