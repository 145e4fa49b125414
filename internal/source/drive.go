package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriveFetcher downloads file contents through the Drive v3 API
// (files.get with alt=media) on behalf of the caller's bearer token.
type DriveFetcher struct {
	endpoint string
	base     http.RoundTripper
}

// NewDriveFetcher talks to the public Drive API unless endpoint is set.
func NewDriveFetcher(endpoint string) *DriveFetcher {
	return &DriveFetcher{endpoint: endpoint, base: http.DefaultTransport}
}

func (d *DriveFetcher) service(ctx context.Context, token string) (*drive.Service, error) {
	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   d.base,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if d.endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.endpoint))
	}
	return drive.NewService(ctx, opts...)
}

func (d *DriveFetcher) Fetch(ctx context.Context, fileID, bearerToken string) ([]byte, error) {
	if fileID == "" {
		return nil, notFound(fileID, errors.New("empty file id"))
	}
	srv, err := d.service(ctx, bearerToken)
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}

	resp, err := srv.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, classifyDrive(fileID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, network(fileID, err)
	}
	log.Debug().Str("file_id", fileID).Int("bytes", len(data)).Msg("drive fetch")
	return data, nil
}

func classifyDrive(fileID string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return notFound(fileID, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return unauthorized(fileID, err)
		}
	}
	return network(fileID, err)
}
