// Package video records captured surface frames into a timelapse artifact.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/ivlev/photo2video/internal/config"
)

// ErrRecorderUnsupported means the environment cannot record in the
// requested format (for example, ffmpeg is not installed).
var ErrRecorderUnsupported = errors.New("recorder unsupported")

// Frame is what a recorder captures. *surface.Surface satisfies it.
type Frame interface {
	Image() *image.RGBA
	Generation() uint64
}

// Recorder turns a sequence of captured frames into an encoded artifact.
// Each Capture is one output frame at the recorder's frame rate.
type Recorder interface {
	Start(ctx context.Context) error
	Capture(ctx context.Context, frame Frame) error
	Stop(ctx context.Context) (*Artifact, error)
	// Abort releases resources after a failed or cancelled run.
	Abort()
}

// Factory creates a recorder for one run at the given frame rate.
type Factory func(fps float64) (Recorder, error)

// NewFactory returns the recorder constructor for cfg.Format.
func NewFactory(cfg *config.Config) (Factory, error) {
	format := strings.ToLower(cfg.Format)
	switch format {
	case config.FormatWebM, config.FormatMP4:
		return func(fps float64) (Recorder, error) {
			return NewFFmpegRecorder(FFmpegOptions{
				Format:  format,
				FPS:     fps,
				Width:   cfg.Width,
				Height:  cfg.Height,
				Encoder: cfg.VideoEncoder,
				Quality: cfg.Quality,
			}), nil
		}, nil
	case config.FormatGIF:
		return func(fps float64) (Recorder, error) {
			return NewGIFRecorder(fps, cfg.Width, cfg.Height), nil
		}, nil
	}
	return nil, fmt.Errorf("%w: format %q", ErrRecorderUnsupported, cfg.Format)
}

// Artifact is a finished recording held in memory.
type Artifact struct {
	Data     []byte
	MIMEType string
	FileName string
}

func (a *Artifact) Size() int {
	return len(a.Data)
}

// WriteFile saves the artifact under its file name in dir and returns the
// path written.
func (a *Artifact) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, a.FileName)
	if err := os.WriteFile(p, a.Data, 0644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return p, nil
}

// canonicalSize is the configured size, or the first frame's size rounded
// down to even dimensions as most encoders require.
func canonicalSize(width, height int, first image.Rectangle) (int, int) {
	if width > 0 && height > 0 {
		return width &^ 1, height &^ 1
	}
	w, h := first.Dx()&^1, first.Dy()&^1
	if w < 2 {
		w = 2
	}
	if h < 2 {
		h = 2
	}
	return w, h
}
