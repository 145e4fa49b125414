package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"math"

	"golang.org/x/image/draw"
)

// GIFRecorder encodes an animated GIF without external tools. Consecutive
// captures of the same surface generation become one GIF frame with a
// longer delay, so holding an image for sixty ticks costs one frame.
type GIFRecorder struct {
	fps           float64
	width, height int

	fit    *letterboxer
	frames []*image.Paletted
	ticks  []int
	last   uint64
}

func NewGIFRecorder(fps float64, width, height int) *GIFRecorder {
	return &GIFRecorder{fps: fps, width: width, height: height}
}

func (r *GIFRecorder) Start(context.Context) error {
	if !(r.fps > 0) {
		return fmt.Errorf("%w: fps %v", ErrRecorderUnsupported, r.fps)
	}
	return nil
}

func (r *GIFRecorder) Capture(_ context.Context, frame Frame) error {
	if len(r.frames) > 0 && frame.Generation() == r.last {
		r.ticks[len(r.ticks)-1]++
		return nil
	}

	img := frame.Image()
	if img == nil {
		return fmt.Errorf("capture of an empty surface")
	}
	if r.fit == nil {
		w, h := canonicalSize(r.width, r.height, img.Rect)
		r.fit = newLetterboxer(w, h)
	}
	canvas := r.fit.fit(frame)

	p := image.NewPaletted(canvas.Rect, palette.Plan9)
	draw.FloydSteinberg.Draw(p, p.Rect, canvas, image.Point{})

	r.frames = append(r.frames, p)
	r.ticks = append(r.ticks, 1)
	r.last = frame.Generation()
	return nil
}

func (r *GIFRecorder) Stop(context.Context) (*Artifact, error) {
	art := &Artifact{MIMEType: "image/gif", FileName: "timelapse.gif"}
	if len(r.frames) == 0 {
		return art, nil
	}

	anim := &gif.GIF{
		Image: r.frames,
		Delay: r.delays(),
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, fmt.Errorf("encode gif: %w", err)
	}
	art.Data = buf.Bytes()
	r.frames, r.ticks = nil, nil
	return art, nil
}

func (r *GIFRecorder) Abort() {
	r.frames, r.ticks = nil, nil
}

// delays converts tick counts to GIF delays in hundredths of a second. The
// running total is rounded rather than each frame, so rounding error does
// not accumulate over a long animation.
func (r *GIFRecorder) delays() []int {
	out := make([]int, len(r.ticks))
	var ticks, emitted int
	for i, n := range r.ticks {
		ticks += n
		end := int(math.Round(float64(ticks) * 100 / r.fps))
		d := end - emitted
		if d < 1 {
			d = 1
		}
		out[i] = d
		emitted += d
	}
	return out
}
