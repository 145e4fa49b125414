// Package source resolves a photo's file id into raw bytes from the
// configured file store.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/ivlev/photo2video/internal/config"
	"github.com/ivlev/photo2video/internal/storage"
)

// Fetch failures. The assembler treats all of them the same way; the
// distinction is for logs and for callers that want to retry.
var (
	ErrNotFound     = errors.New("file not found")
	ErrUnauthorized = errors.New("not authorized to read file")
	ErrNetwork      = errors.New("network error")
)

// Fetcher retrieves the raw bytes of one file. Implementations must be safe
// for concurrent use and must honor ctx cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, fileID, bearerToken string) ([]byte, error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context, fileID, bearerToken string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, fileID, bearerToken string) ([]byte, error) {
	return f(ctx, fileID, bearerToken)
}

// NewFetcher builds the fetcher selected by cfg.Source.Kind.
func NewFetcher(ctx context.Context, cfg *config.Config) (Fetcher, error) {
	src := cfg.Source
	switch src.Kind {
	case config.SourceDrive, "":
		return NewDriveFetcher(src.DriveEndpoint), nil
	case config.SourceS3:
		return NewS3Fetcher(ctx, src)
	case config.SourceMinio:
		store, err := storage.New(src)
		if err != nil {
			return nil, fmt.Errorf("minio source: %w", err)
		}
		return NewMinioFetcher(store, src.Bucket, src.Prefix), nil
	case config.SourceDir:
		return NewDirFetcher(src.Dir)
	}
	return nil, fmt.Errorf("unknown source kind %q", src.Kind)
}

func notFound(fileID string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNotFound, fileID, err)
}

func unauthorized(fileID string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnauthorized, fileID, err)
}

func network(fileID string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNetwork, fileID, err)
}
