// Package decode turns fetched bytes into drawable images.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/gen2brain/go-fitz"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupported is returned for data that is neither a known image format
// nor a PDF.
var ErrUnsupported = errors.New("unsupported image format")

// Decoder decodes one fetched file. Implementations must be safe for
// concurrent use.
type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

// StdDecoder handles JPEG, PNG, GIF, WebP, BMP and TIFF through the image
// registry, and PDF by rendering the first page.
type StdDecoder struct {
	DPI int
}

func NewStdDecoder(dpi int) *StdDecoder {
	if dpi <= 0 {
		dpi = 150
	}
	return &StdDecoder{DPI: dpi}
}

var pdfMagic = []byte("%PDF-")

func (d *StdDecoder) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUnsupported)
	}
	if bytes.HasPrefix(data, pdfMagic) {
		return d.decodePDF(data)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: %w", ErrUnsupported, err)
		}
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, fmt.Errorf("decode image: empty bounds %v", b)
	}
	return img, nil
}

// decodePDF opens its own document per call; fitz documents are not safe
// to share between goroutines.
func (d *StdDecoder) decodePDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, errors.New("pdf has no pages")
	}
	img, err := doc.ImageDPI(0, float64(d.DPI))
	if err != nil {
		return nil, fmt.Errorf("render pdf page: %w", err)
	}
	return img, nil
}

// CaptureTime reads the EXIF capture time, falling back from
// DateTimeOriginal to CreateDate. ok is false when neither is present.
func CaptureTime(data []byte) (t time.Time, ok bool) {
	defer func() {
		if recover() != nil {
			t, ok = time.Time{}, false
		}
	}()

	meta, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return time.Time{}, false
	}
	if dt := meta.DateTimeOriginal(); !dt.IsZero() {
		return dt, true
	}
	if dt := meta.CreateDate(); !dt.IsZero() {
		return dt, true
	}
	return time.Time{}, false
}
