package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Config configures an S3BlobStore.
type S3Config struct {
	Bucket string
	Region string
	// Prefix is prepended to every object key.
	Prefix string
	// Endpoint overrides the service endpoint for S3-compatible stores;
	// path-style addressing is used when set.
	Endpoint string
}

// s3API is the subset of the S3 client used here.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3BlobStore uploads image blobs to an S3 bucket.
type S3BlobStore struct {
	client s3API
	bucket string
	prefix string
}

// NewS3 builds a blob store from the default AWS credential chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
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
	return &S3BlobStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (b *S3BlobStore) key(p string) string {
	if b.prefix == "" {
		return p
	}
	return path.Join(b.prefix, p)
}

func (b *S3BlobStore) Upload(ctx context.Context, p string, data []byte, contentType string) (string, error) {
	key := b.key(p)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", translateS3("upload", err)
	}
	return "s3://" + b.bucket + "/" + key, nil
}

func (b *S3BlobStore) Close() error {
	return nil
}

// retryableS3Codes are client-fault codes that still succeed on retry.
var retryableS3Codes = map[string]bool{
	"RequestTimeout":       true,
	"RequestTimeTooSkewed": true,
	"ExpiredToken":         true,
	"SlowDown":             true,
	"Throttling":           true,
}

func translateS3(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorFault() == smithy.FaultClient && !retryableS3Codes[apiErr.ErrorCode()] {
			return Rejected(op, apiErr.ErrorCode(), err)
		}
	}
	return Network(op, err)
}
