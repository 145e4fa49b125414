package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Extensions tried, in order, when a file id has none of its own.
var imageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff", ".pdf"}

// DirFetcher serves photos from a local directory. The file id is a base
// name, with or without its image extension.
type DirFetcher struct {
	root string
}

func NewDirFetcher(root string) (*DirFetcher, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	return &DirFetcher{root: root}, nil
}

func (d *DirFetcher) Fetch(ctx context.Context, fileID, _ string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, network(fileID, err)
	}
	if fileID == "" || fileID != filepath.Base(fileID) || strings.HasPrefix(fileID, ".") {
		return nil, notFound(fileID, errors.New("invalid file id"))
	}

	p, err := d.resolve(fileID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, fs.ErrPermission):
		return nil, unauthorized(fileID, err)
	}
	return nil, network(fileID, err)
}

func (d *DirFetcher) resolve(fileID string) (string, error) {
	p := filepath.Join(d.root, fileID)
	if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
		return p, nil
	}
	for _, ext := range imageExts {
		candidate := p + ext
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
	}
	return "", notFound(fileID, fs.ErrNotExist)
}

// List returns the base names of the images in the directory, sorted.
// The CLI uses it to build a selection when no spreadsheet is configured.
func (d *DirFetcher) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, known := range imageExts {
			if ext == known {
				names = append(names, e.Name())
				break
			}
		}
	}
	return names, nil
}
