package video

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// letterboxer scales frames into a fixed canvas, preserving aspect ratio
// and padding with black. The last result is cached by frame generation so
// a held image is scaled once, not once per tick.
type letterboxer struct {
	canvas  *image.RGBA
	lastGen uint64
	valid   bool
}

func newLetterboxer(w, h int) *letterboxer {
	return &letterboxer{canvas: image.NewRGBA(image.Rect(0, 0, w, h))}
}

func (l *letterboxer) fit(frame Frame) *image.RGBA {
	if l.valid && frame.Generation() == l.lastGen {
		return l.canvas
	}
	src := frame.Image()
	if src == nil {
		return l.canvas
	}
	if src.Rect.Eq(l.canvas.Rect) && src.Rect.Min == (image.Point{}) {
		copy(l.canvas.Pix, src.Pix)
	} else {
		draw.Draw(l.canvas, l.canvas.Rect, image.NewUniform(color.Black), image.Point{}, draw.Src)
		draw.ApproxBiLinear.Scale(l.canvas, fitRect(src.Rect, l.canvas.Rect), src, src.Rect, draw.Src, nil)
	}
	l.lastGen = frame.Generation()
	l.valid = true
	return l.canvas
}

// fitRect returns the largest rectangle with src's aspect ratio that fits
// centered inside dst.
func fitRect(src, dst image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	dw, dh := dst.Dx(), dst.Dy()
	if sw <= 0 || sh <= 0 {
		return dst
	}

	w, h := dw, sh*dw/sw
	if h > dh {
		w, h = sw*dh/sh, dh
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	x := dst.Min.X + (dw-w)/2
	y := dst.Min.Y + (dh-h)/2
	return image.Rect(x, y, x+w, y+h)
}
