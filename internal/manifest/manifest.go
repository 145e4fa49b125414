// Package manifest reads and writes timelapse plans: the ordered photo list
// plus timing, saved as YAML so a run can be reviewed, edited and replayed.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/photo2video/internal/photo"
	"github.com/ivlev/photo2video/internal/system"
)

const Version = "1.0"

// Manifest is a complete timelapse plan.
type Manifest struct {
	Version         string  `yaml:"version"`
	FPS             float64 `yaml:"fps"`
	SecondsPerImage float64 `yaml:"seconds_per_image"`
	Photos          []Entry `yaml:"photos"`
}

// Entry is one photo of the plan, in output order.
type Entry struct {
	FileID    string `yaml:"file_id"`
	FileLink  string `yaml:"file_link,omitempty"`
	Timestamp string `yaml:"timestamp,omitempty"`
	Location  string `yaml:"location,omitempty"`
	Uploader  string `yaml:"uploader,omitempty"`
	Date      string `yaml:"date,omitempty"`
	Time      string `yaml:"time,omitempty"`
}

// New builds a manifest from refs in the given order.
func New(refs []photo.Ref, fps, secondsPerImage float64) *Manifest {
	m := &Manifest{Version: Version, FPS: fps, SecondsPerImage: secondsPerImage}
	for _, r := range refs {
		m.Photos = append(m.Photos, Entry{
			FileID:    r.FileID,
			FileLink:  r.FileLink,
			Timestamp: r.Timestamp,
			Location:  r.Location,
			Uploader:  r.Uploader,
			Date:      r.UploadDate,
			Time:      r.UploadTime,
		})
	}
	return m
}

// Refs returns the plan's photos as references.
func (m *Manifest) Refs() []photo.Ref {
	refs := make([]photo.Ref, len(m.Photos))
	for i, e := range m.Photos {
		refs[i] = photo.Ref{
			FileID:     e.FileID,
			FileLink:   e.FileLink,
			Timestamp:  e.Timestamp,
			Location:   e.Location,
			Uploader:   e.Uploader,
			UploadDate: e.Date,
			UploadTime: e.Time,
		}
		if refs[i].FileID == "" {
			refs[i].FileID, _ = photo.ExtractFileID(e.FileLink)
		}
	}
	return refs
}

// Write saves m to path, creating the parent directory.
func Write(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Read loads a manifest. Missing timing is left zero so the caller's
// defaults apply.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Version != "" && m.Version != Version {
		return nil, fmt.Errorf("manifest %s: unsupported version %q", path, m.Version)
	}
	return &m, nil
}

// GeneratePath returns a timestamped manifest file name inside dir.
func GeneratePath(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("timelapse_%s.yaml", now.Format("2006-01-02_15-04-05")))
}

// FindLatest returns the most recently modified manifest in dir.
func FindLatest(dir string) (string, error) {
	return system.FindLatest(dir, ".yaml", ".yml")
}
