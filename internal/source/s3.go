package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/ivlev/photo2video/internal/config"
	"github.com/ivlev/photo2video/internal/storage"
)

// S3API is the subset of *s3.Client the fetcher uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher reads prefix+fileID from a bucket. The bearer token is ignored;
// credentials come from the AWS default chain.
type S3Fetcher struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Fetcher(ctx context.Context, cfg config.SourceConfig) (*S3Fetcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	log.Debug().Str("region", awsCfg.Region).Str("bucket", cfg.Bucket).Msg("S3 source ready")
	return NewS3FetcherWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func NewS3FetcherWithClient(client S3API, bucket, prefix string) *S3Fetcher {
	return &S3Fetcher{client: client, bucket: bucket, prefix: prefix}
}

func (f *S3Fetcher) Fetch(ctx context.Context, fileID, _ string) ([]byte, error) {
	key := path.Join(f.prefix, fileID)
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &f.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, classifyS3(fileID, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, network(fileID, err)
	}
	return data, nil
}

func classifyS3(fileID string, err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return notFound(fileID, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return notFound(fileID, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return unauthorized(fileID, err)
		}
	}
	return network(fileID, err)
}

// MinioFetcher reads photos from a MinIO bucket through the shared store.
type MinioFetcher struct {
	store  *storage.Store
	bucket string
	prefix string
}

func NewMinioFetcher(store *storage.Store, bucket, prefix string) *MinioFetcher {
	return &MinioFetcher{store: store, bucket: bucket, prefix: prefix}
}

func (f *MinioFetcher) Fetch(ctx context.Context, fileID, _ string) ([]byte, error) {
	data, err := f.store.Get(ctx, f.bucket, path.Join(f.prefix, fileID))
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, notFound(fileID, err)
	case errors.Is(err, storage.ErrAccessDenied):
		return nil, unauthorized(fileID, err)
	}
	return nil, network(fileID, err)
}
