package decode

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
)

func encode(t *testing.T, format string, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 80, A: 255})
		}
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "jpeg":
		err = jpeg.Encode(&buf, img, nil)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	case "bmp":
		err = bmp.Encode(&buf, img)
	}
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeFormats(t *testing.T) {
	d := NewStdDecoder(0)
	for _, format := range []string{"png", "jpeg", "gif", "bmp"} {
		t.Run(format, func(t *testing.T) {
			img, err := d.Decode(encode(t, format, 7, 5))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if b := img.Bounds(); b.Dx() != 7 || b.Dy() != 5 {
				t.Errorf("bounds = %v, want 7x5", b)
			}
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	d := NewStdDecoder(72)
	for name, data := range map[string][]byte{
		"empty":   nil,
		"text":    []byte("definitely not an image"),
		"partial": encode(t, "png", 4, 4)[:20],
	} {
		if _, err := d.Decode(data); err == nil {
			t.Errorf("%s: Decode succeeded", name)
		}
	}

	if _, err := d.Decode([]byte("hello")); !errors.Is(err, ErrUnsupported) {
		t.Errorf("unknown format error = %v, want ErrUnsupported", err)
	}
}

func TestDecodeBrokenPDF(t *testing.T) {
	d := NewStdDecoder(72)
	if _, err := d.Decode([]byte("%PDF-1.4 truncated")); err == nil {
		t.Error("Decode of a truncated PDF succeeded")
	}
}

func TestCaptureTimeWithoutExif(t *testing.T) {
	if _, ok := CaptureTime(encode(t, "png", 2, 2)); ok {
		t.Error("CaptureTime found a date in a PNG without EXIF")
	}
	if _, ok := CaptureTime(nil); ok {
		t.Error("CaptureTime found a date in empty input")
	}
}
