package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds understood by source.NewFetcher.
const (
	SourceDrive = "drive"
	SourceS3    = "s3"
	SourceMinio = "minio"
	SourceDir   = "dir"
)

// Output formats understood by video.NewFactory.
const (
	FormatWebM = "webm"
	FormatMP4  = "mp4"
	FormatGIF  = "gif"
)

// TokenEnv holds the bearer token used for Drive and Sheets requests.
const TokenEnv = "PHOTO2VIDEO_TOKEN"

type Config struct {
	FPS                float64       `yaml:"fps"`
	SecondsPerImage    float64       `yaml:"seconds_per_image"`
	Workers            int           `yaml:"workers"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	Width              int           `yaml:"width"`
	Height             int           `yaml:"height"`
	DPI                int           `yaml:"dpi"`
	Format             string        `yaml:"format"`
	VideoEncoder       string        `yaml:"video_encoder"`
	Quality            int           `yaml:"quality"`
	OutputDir          string        `yaml:"output_dir"`
	Captions           bool          `yaml:"captions"`
	QRCode             bool          `yaml:"qr_code"`
	AllowEmptyArtifact bool          `yaml:"allow_empty_artifact"`
	ShowStats          bool          `yaml:"show_stats"`
	BuildVersion       string        `yaml:"-"`
	LogLevel           string        `yaml:"log_level"`

	Source  SourceConfig  `yaml:"source"`
	Publish PublishConfig `yaml:"publish"`
	Sheets  SheetsConfig  `yaml:"sheets"`
	Server  ServerConfig  `yaml:"server"`
}

type SourceConfig struct {
	Kind          string `yaml:"kind"`
	Dir           string `yaml:"dir"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl"`
	DriveEndpoint string `yaml:"drive_endpoint"`
}

// PublishConfig controls uploading the finished artifact to the object store.
// It reuses the endpoint and credentials of SourceConfig.
type PublishConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Bucket    string        `yaml:"bucket"`
	Prefix    string        `yaml:"prefix"`
	URLExpiry time.Duration `yaml:"url_expiry"`
}

type SheetsConfig struct {
	SpreadsheetID string `yaml:"spreadsheet_id"`
	CSVPath       string `yaml:"csv_path"`
	Endpoint      string `yaml:"endpoint"`
	DriveEndpoint string `yaml:"drive_endpoint"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the settings the original gallery used: 30 fps, two
// seconds per photo, a WebM/VP8 artifact.
func Default() *Config {
	return &Config{
		FPS:             30,
		SecondsPerImage: 2,
		Workers:         runtime.NumCPU(),
		FetchTimeout:    30 * time.Second,
		DPI:             150,
		Format:          FormatWebM,
		OutputDir:       "output",
		LogLevel:        "info",
		Source: SourceConfig{
			Kind:   SourceDrive,
			Region: "us-east-1",
		},
		Publish: PublishConfig{
			URLExpiry: 24 * time.Hour,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := ValidateTiming(c.FPS, c.SecondsPerImage); err != nil {
		return err
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("fetch_timeout must not be negative, got %s", c.FetchTimeout)
	}
	if c.Width < 0 || c.Height < 0 || (c.Width == 0) != (c.Height == 0) {
		return fmt.Errorf("width and height must both be set or both be zero, got %dx%d", c.Width, c.Height)
	}
	switch strings.ToLower(c.Format) {
	case FormatWebM, FormatMP4, FormatGIF:
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
	switch c.Source.Kind {
	case SourceDrive:
	case SourceDir:
		if c.Source.Dir == "" {
			return errors.New("source.dir is required for the dir source")
		}
	case SourceS3, SourceMinio:
		if c.Source.Bucket == "" {
			return fmt.Errorf("source.bucket is required for the %s source", c.Source.Kind)
		}
		if c.Source.Kind == SourceMinio && c.Source.Endpoint == "" {
			return errors.New("source.endpoint is required for the minio source")
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	if c.Publish.Enabled {
		if c.Publish.Bucket == "" {
			return errors.New("publish.bucket is required when publishing is enabled")
		}
		if c.Source.Endpoint == "" {
			return errors.New("source.endpoint is required when publishing is enabled")
		}
	}
	return nil
}

// MaxFramesPerImage caps how many ticks one photo may be held.
const MaxFramesPerImage = math.MaxInt32

// ValidateTiming checks frame rate and per-image duration. The hold,
// fps*seconds, must stay within MaxFramesPerImage.
func ValidateTiming(fps, secondsPerImage float64) error {
	if !(fps > 0) || math.IsInf(fps, 0) {
		return fmt.Errorf("fps must be a positive number, got %v", fps)
	}
	if !(secondsPerImage > 0) || math.IsInf(secondsPerImage, 0) {
		return fmt.Errorf("seconds per image must be a positive number, got %v", secondsPerImage)
	}
	if fps*secondsPerImage > MaxFramesPerImage {
		return fmt.Errorf("fps*seconds = %v exceeds %d frames per photo", fps*secondsPerImage, MaxFramesPerImage)
	}
	return nil
}

// FramesPerImage is ceil(fps*seconds). The epsilon absorbs float noise so
// that 30*2 stays 60 and is never rounded up to 61.
func FramesPerImage(fps, secondsPerImage float64) int {
	return int(math.Ceil(fps*secondsPerImage - 1e-9))
}

// Token returns the bearer token from the environment.
func Token() string {
	return os.Getenv(TokenEnv)
}
