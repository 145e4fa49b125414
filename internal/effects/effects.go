package effects

import (
	"image"
	"image/color"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ivlev/photo2video/internal/config"
	"github.com/ivlev/photo2video/internal/photo"
)

// Effect draws on a composited frame before it is captured.
type Effect interface {
	Apply(dst *image.RGBA, ref photo.Ref, index int)
}

// Chain applies effects in order.
type Chain []Effect

func (c Chain) Apply(dst *image.RGBA, ref photo.Ref, index int) {
	for _, e := range c {
		e.Apply(dst, ref, index)
	}
}

// New builds the overlay chain enabled in cfg. The chain may be empty.
func New(cfg *config.Config) Chain {
	var c Chain
	if cfg.Captions {
		c = append(c, NewCaptionEffect())
	}
	if cfg.QRCode {
		c = append(c, NewQREffect())
	}
	return c
}

// CaptionEffect writes the photo caption on a translucent bar along the
// bottom edge.
type CaptionEffect struct {
	Face    font.Face
	Text    color.Color
	Bar     color.Color
	Padding int
}

func NewCaptionEffect() *CaptionEffect {
	return &CaptionEffect{
		Face:    basicfont.Face7x13,
		Text:    color.White,
		Bar:     color.RGBA{A: 160},
		Padding: 6,
	}
}

func (e *CaptionEffect) Apply(dst *image.RGBA, ref photo.Ref, _ int) {
	text := ref.Caption()
	if text == "" || dst == nil {
		return
	}

	b := dst.Bounds()
	metrics := e.Face.Metrics()
	lineHeight := (metrics.Ascent + metrics.Descent).Ceil()
	barHeight := lineHeight + 2*e.Padding
	if barHeight > b.Dy() {
		return
	}

	bar := image.Rect(b.Min.X, b.Max.Y-barHeight, b.Max.X, b.Max.Y)
	draw.Draw(dst, bar, image.NewUniform(e.Bar), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(e.Text),
		Face: e.Face,
		Dot:  fixed.P(bar.Min.X+e.Padding, bar.Min.Y+e.Padding+metrics.Ascent.Ceil()),
	}
	d.DrawString(text)
}

// QREffect stamps a QR code of the photo's file link in the top-right
// corner, sized to a fraction of the shorter frame edge.
type QREffect struct {
	Fraction float64
	Margin   int
	Level    qrcode.RecoveryLevel
}

func NewQREffect() *QREffect {
	return &QREffect{Fraction: 0.18, Margin: 8, Level: qrcode.Medium}
}

func (e *QREffect) Apply(dst *image.RGBA, ref photo.Ref, index int) {
	if ref.FileLink == "" || dst == nil {
		return
	}
	b := dst.Bounds()
	short := b.Dx()
	if b.Dy() < short {
		short = b.Dy()
	}
	size := int(float64(short) * e.Fraction)
	if size < 32 {
		return
	}

	q, err := qrcode.New(ref.FileLink, e.Level)
	if err != nil {
		log.Debug().Err(err).Int("index", index).Msg("qr overlay skipped")
		return
	}
	code := q.Image(size)

	r := code.Bounds()
	at := image.Pt(b.Max.X-e.Margin-r.Dx(), b.Min.Y+e.Margin)
	draw.Draw(dst, r.Sub(r.Min).Add(at), code, r.Min, draw.Src)
}
