package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ivlev/photo2video/internal/config"
	"github.com/ivlev/photo2video/internal/system"
)

// lookPath is replaced in tests.
var lookPath = system.FFmpegPath

type FFmpegOptions struct {
	Format  string // webm or mp4
	FPS     float64
	Width   int // 0 means take the first frame's size
	Height  int
	Encoder string // mp4 only; empty picks the best available H.264 encoder
	Quality int
}

// FFmpegRecorder pipes raw RGBA frames into ffmpeg's stdin and collects the
// encoded stream from its stdout. ffmpeg is started on the first Capture,
// once the output resolution is known.
type FFmpegRecorder struct {
	opts FFmpegOptions
	bin  string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    bytes.Buffer
	stderr syncBuffer
	fit    *letterboxer
	frames int
}

func NewFFmpegRecorder(opts FFmpegOptions) *FFmpegRecorder {
	return &FFmpegRecorder{opts: opts}
}

func (r *FFmpegRecorder) Start(ctx context.Context) error {
	bin, err := lookPath()
	if err != nil {
		return fmt.Errorf("%w: ffmpeg not found: %w", ErrRecorderUnsupported, err)
	}
	r.bin = bin
	if r.opts.Format == config.FormatMP4 && r.opts.Encoder == "" {
		r.opts.Encoder = system.GetBestH264Encoder(ctx)
	}
	return nil
}

func (r *FFmpegRecorder) Capture(ctx context.Context, frame Frame) error {
	if r.bin == "" {
		return errors.New("recorder not started")
	}
	if r.cmd == nil {
		img := frame.Image()
		if img == nil {
			return errors.New("capture of an empty surface")
		}
		w, h := canonicalSize(r.opts.Width, r.opts.Height, img.Rect)
		if err := r.launch(ctx, w, h); err != nil {
			return err
		}
	}

	canvas := r.fit.fit(frame)
	if _, err := r.stdin.Write(canvas.Pix); err != nil {
		return fmt.Errorf("write frame %d: %w (ffmpeg: %s)", r.frames, err, r.stderr.tail())
	}
	r.frames++
	return nil
}

func (r *FFmpegRecorder) launch(ctx context.Context, w, h int) error {
	args := buildArgs(r.opts, w, h)
	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Stdout = &r.out
	cmd.Stderr = &r.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %w", ErrRecorderUnsupported, err)
	}

	log.Debug().Int("width", w).Int("height", h).Str("format", r.opts.Format).
		Str("encoder", videoCodec(r.opts)).Msg("ffmpeg started")

	r.cmd = cmd
	r.stdin = stdin
	r.fit = newLetterboxer(w, h)
	return nil
}

// Stop closes ffmpeg's input and waits for the encoded stream. A recording
// with no captured frames yields an empty artifact.
func (r *FFmpegRecorder) Stop(ctx context.Context) (*Artifact, error) {
	art := &Artifact{MIMEType: mimeType(r.opts.Format), FileName: "timelapse." + r.opts.Format}
	if r.cmd == nil {
		return art, nil
	}

	r.stdin.Close()
	err := r.cmd.Wait()
	r.cmd = nil
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, r.stderr.tail())
	}

	art.Data = bytes.Clone(r.out.Bytes())
	r.out.Reset()
	return art, nil
}

func (r *FFmpegRecorder) Abort() {
	if r.cmd == nil {
		return
	}
	r.stdin.Close()
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	r.cmd.Wait()
	r.cmd = nil
}

func buildArgs(o FFmpegOptions, w, h int) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", w, h),
		"-framerate", strconv.FormatFloat(o.FPS, 'f', -1, 64),
		"-i", "-",
		"-an",
		"-pix_fmt", "yuv420p",
		"-c:v", videoCodec(o),
	}
	args = append(args, qualityArgs(o)...)

	if o.Format == config.FormatMP4 {
		args = append(args, "-movflags", "frag_keyframe+empty_moov", "-f", "mp4")
	} else {
		args = append(args, "-f", "webm")
	}
	return append(args, "pipe:1")
}

func videoCodec(o FFmpegOptions) string {
	if o.Format == config.FormatMP4 {
		if o.Encoder == "" {
			return "libx264"
		}
		return o.Encoder
	}
	return "libvpx"
}

func qualityArgs(o FFmpegOptions) []string {
	q := o.Quality
	switch videoCodec(o) {
	case "libvpx":
		if q <= 0 {
			q = 10
		}
		return []string{"-crf", strconv.Itoa(q), "-b:v", "2M"}
	case "h264_videotoolbox":
		if q <= 0 {
			q = 75
		}
		return []string{"-b:v", fmt.Sprintf("%dk", q*100)}
	case "h264_nvenc":
		if q <= 0 {
			q = 23
		}
		return []string{"-cq", strconv.Itoa(q)}
	default:
		if q <= 0 {
			q = 23
		}
		return []string{"-crf", strconv.Itoa(q), "-preset", "medium"}
	}
}

func mimeType(format string) string {
	switch format {
	case config.FormatMP4:
		return "video/mp4"
	case config.FormatGIF:
		return "image/gif"
	}
	return "video/webm"
}

// syncBuffer collects ffmpeg's stderr. exec copies into it from its own
// goroutine while Capture may already be reporting a failed write.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// tail returns the last 512 bytes written, trimmed.
func (b *syncBuffer) tail() string {
	const max = 512
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.buf.Bytes()
	if len(p) > max {
		p = p[len(p)-max:]
	}
	return string(bytes.TrimSpace(p))
}
