package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFramesPerImage(t *testing.T) {
	tests := []struct {
		fps, seconds float64
		want         int
	}{
		{30, 2, 60},
		{5, 2, 10},
		{30, 0.3, 9},
		{24, 0.5, 12},
		{29.97, 1, 30},
		{10, 0.25, 3},
		{1, 0.01, 1},
	}

	for _, tt := range tests {
		got := FramesPerImage(tt.fps, tt.seconds)
		if got != tt.want {
			t.Errorf("FramesPerImage(%v, %v) = %d, want %d", tt.fps, tt.seconds, got, tt.want)
		}
	}
}

func TestValidateTiming(t *testing.T) {
	tests := []struct {
		name         string
		fps, seconds float64
		wantErr      bool
	}{
		{"valid", 30, 2, false},
		{"zero fps", 0, 2, true},
		{"negative seconds", 30, -1, true},
		{"nan fps", math.NaN(), 2, true},
		{"inf seconds", 30, math.Inf(1), true},
		{"hold at the cap", 1, math.MaxInt32, false},
		{"hold over the cap", 1e10, 1e10, true},
		{"product overflows", 1e200, 1e200, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTiming(tt.fps, tt.seconds)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTiming(%v, %v) error = %v, wantErr %v", tt.fps, tt.seconds, err, tt.wantErr)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"no workers", func(c *Config) { c.Workers = 0 }, true},
		{"half resolution", func(c *Config) { c.Width = 1280 }, true},
		{"unknown format", func(c *Config) { c.Format = "avi" }, true},
		{"dir without path", func(c *Config) { c.Source.Kind = SourceDir }, true},
		{"dir with path", func(c *Config) { c.Source.Kind = SourceDir; c.Source.Dir = "photos" }, false},
		{"s3 without bucket", func(c *Config) { c.Source.Kind = SourceS3 }, true},
		{"minio without endpoint", func(c *Config) { c.Source.Kind = SourceMinio; c.Source.Bucket = "b" }, true},
		{"publish without bucket", func(c *Config) { c.Publish.Enabled = true }, true},
		{"unknown source", func(c *Config) { c.Source.Kind = "ftp" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo2video.yaml")
	data := []byte(`fps: 5
seconds_per_image: 1.5
fetch_timeout: 10s
format: gif
source:
  kind: dir
  dir: /srv/photos
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.FPS != 5 || cfg.SecondsPerImage != 1.5 {
		t.Errorf("timing = %v/%v, want 5/1.5", cfg.FPS, cfg.SecondsPerImage)
	}
	if cfg.FetchTimeout != 10*time.Second {
		t.Errorf("FetchTimeout = %s, want 10s", cfg.FetchTimeout)
	}
	if cfg.Source.Kind != SourceDir || cfg.Source.Dir != "/srv/photos" {
		t.Errorf("Source = %+v", cfg.Source)
	}
	// Defaults survive for keys the file leaves out.
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FPS != 30 || cfg.SecondsPerImage != 2 || cfg.Format != FormatWebM {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
