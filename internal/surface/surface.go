// Package surface is the single drawing target the assembler composites
// onto and the recorder captures from.
package surface

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/ivlev/photo2video/internal/system"
)

// ErrUnavailable is returned when a surface cannot be allocated.
var ErrUnavailable = errors.New("drawing surface unavailable")

// Surface is not safe for concurrent use. The assembler owns it for the
// duration of a run and the recorder only reads it inside Capture.
type Surface struct {
	img        *image.RGBA
	generation uint64
	background color.Color
}

// New returns a surface with no buffer; the first Resize allocates one.
func New() *Surface {
	return &Surface{background: color.Black}
}

// Resize sets the surface to w x h. The buffer is reused when the size is
// unchanged and otherwise swapped for a pooled one.
func (s *Surface) Resize(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: invalid size %dx%d", ErrUnavailable, w, h)
	}
	rect := image.Rect(0, 0, w, h)
	if s.img != nil && s.img.Rect == rect {
		return nil
	}
	if s.img != nil {
		system.PutImage(s.img)
	}
	s.img = system.GetImage(rect)
	s.generation++
	return nil
}

// Clear fills the surface with the background color.
func (s *Surface) Clear() {
	if s.img == nil {
		return
	}
	draw.Draw(s.img, s.img.Rect, image.NewUniform(s.background), image.Point{}, draw.Src)
	s.generation++
}

// Draw copies img onto the surface at the origin. img is expected to match
// the surface size; any excess is clipped.
func (s *Surface) Draw(img image.Image) {
	if s.img == nil {
		return
	}
	b := img.Bounds()
	draw.Draw(s.img, s.img.Rect, img, b.Min, draw.Over)
	s.generation++
}

// Touch marks the surface modified after a caller drew on Image directly.
func (s *Surface) Touch() {
	s.generation++
}

// Image exposes the backing buffer. It is nil before the first Resize.
func (s *Surface) Image() *image.RGBA {
	return s.img
}

// Generation changes on every mutation. Recorders use it to tell a held
// frame from a new one.
func (s *Surface) Generation() uint64 {
	return s.generation
}

// Release returns the buffer to the pool.
func (s *Surface) Release() {
	if s.img != nil {
		system.PutImage(s.img)
		s.img = nil
	}
}
