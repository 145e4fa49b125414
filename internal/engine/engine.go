// Package engine assembles a selection of photos into a timelapse: fetch
// concurrently, composite in selection order, record, finalize.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/photo2video/internal/config"
	"github.com/ivlev/photo2video/internal/decode"
	"github.com/ivlev/photo2video/internal/effects"
	"github.com/ivlev/photo2video/internal/photo"
	"github.com/ivlev/photo2video/internal/progress"
	"github.com/ivlev/photo2video/internal/source"
	"github.com/ivlev/photo2video/internal/surface"
	"github.com/ivlev/photo2video/internal/system"
	"github.com/ivlev/photo2video/internal/video"
)

var (
	ErrEmptySelection     = errors.New("selection is empty")
	ErrInvalidTiming      = errors.New("invalid timing")
	ErrNoFramesComposited = errors.New("no frames composited: every photo failed")
	ErrBusy               = errors.New("an assembly is already running")

	ErrSurfaceUnavailable  = surface.ErrUnavailable
	ErrRecorderUnsupported = video.ErrRecorderUnsupported
)

// Stage names where a per-photo failure happened.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageDecode    Stage = "decode"
	StageComposite Stage = "composite"
)

// Failure records one skipped photo.
type Failure struct {
	Index int
	Ref   photo.Ref
	Stage Stage
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("photo %d (%s): %s: %v", f.Index, f.Ref.FileID, f.Stage, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Result describes a finished run. Fetched counts photos that were fetched
// and decoded; Composited counts those that made it into the recording.
type Result struct {
	RunID          string
	Artifact       *video.Artifact
	Requested      int
	Fetched        int
	Composited     int
	FramesPerImage int
	Ticks          int
	Failures       []Failure
	Stats          Stats
}

// Assembler runs one assembly at a time; a second concurrent call gets
// ErrBusy.
type Assembler struct {
	cfg         *config.Config
	fetcher     source.Fetcher
	decoder     decode.Decoder
	newRecorder video.Factory
	newSurface  func() (*surface.Surface, error)

	progress     *progress.Progress
	effect       effects.Effect
	token        string
	logger       zerolog.Logger
	now          func() time.Time
	benchmarkLog string

	running sync.Mutex
}

type Option func(*Assembler)

// WithProgress publishes run counters to p.
func WithProgress(p *progress.Progress) Option {
	return func(a *Assembler) { a.progress = p }
}

// WithEffect draws e on every composited frame.
func WithEffect(e effects.Effect) Option {
	return func(a *Assembler) { a.effect = e }
}

// WithToken sets the bearer token handed to the fetcher.
func WithToken(token string) Option {
	return func(a *Assembler) { a.token = token }
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithBenchmarkLog sets the file the stats line is appended to.
func WithBenchmarkLog(path string) Option {
	return func(a *Assembler) { a.benchmarkLog = path }
}

// WithSurface overrides how the drawing surface is acquired.
func WithSurface(newSurface func() (*surface.Surface, error)) Option {
	return func(a *Assembler) { a.newSurface = newSurface }
}

func NewAssembler(cfg *config.Config, fetcher source.Fetcher, decoder decode.Decoder, newRecorder video.Factory, opts ...Option) *Assembler {
	a := &Assembler{
		cfg:          cfg,
		fetcher:      fetcher,
		decoder:      decoder,
		newRecorder:  newRecorder,
		newSurface:   func() (*surface.Surface, error) { return surface.New(), nil },
		progress:     progress.New(),
		logger:       log.Logger,
		now:          time.Now,
		benchmarkLog: "benchmark.log",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Progress returns the sink the assembler writes to.
func (a *Assembler) Progress() *progress.Progress {
	return a.progress
}

// decoded is the outcome of one fetch, stored at the photo's index.
type decoded struct {
	ref   photo.Ref // display copy; caption fields may be filled from EXIF
	img   image.Image
	stage Stage
	err   error
}

// Assemble builds a timelapse from selection. The slice is copied before
// any work starts. Photos that fail to fetch or decode are skipped and
// listed in Result.Failures. When every photo fails the recorder is still
// stopped and ErrNoFramesComposited is returned together with the result,
// unless the config allows an empty artifact.
func (a *Assembler) Assemble(ctx context.Context, selection []photo.Ref, fps, secondsPerImage float64) (*Result, error) {
	if len(selection) == 0 {
		return nil, ErrEmptySelection
	}
	if err := config.ValidateTiming(fps, secondsPerImage); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTiming, err)
	}
	if !a.running.TryLock() {
		return nil, ErrBusy
	}
	defer a.running.Unlock()

	refs := make([]photo.Ref, len(selection))
	copy(refs, selection)

	res := &Result{
		RunID:          uuid.NewString(),
		Requested:      len(refs),
		FramesPerImage: config.FramesPerImage(fps, secondsPerImage),
	}
	logger := a.logger.With().Str("run_id", res.RunID).Logger()
	a.progress.Begin(res.RunID, len(refs))

	fail := func(err error) (*Result, error) {
		a.progress.SetPhase(progress.PhaseFailed)
		logger.Error().Err(err).Msg("assembly failed")
		return nil, err
	}

	start := a.now()

	surf, err := a.newSurface()
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrSurfaceUnavailable, err))
	}
	defer surf.Release()

	rec, err := a.newRecorder(fps)
	if err != nil {
		return fail(wrapRecorderErr(err))
	}
	if err := rec.Start(ctx); err != nil {
		return fail(wrapRecorderErr(err))
	}
	stopped := false
	defer func() {
		if !stopped {
			rec.Abort()
		}
	}()

	logger.Info().Int("photos", len(refs)).Float64("fps", fps).
		Int("frames_per_image", res.FramesPerImage).Msg("assembly started")

	// Fetch.
	items := a.fetchAll(ctx, logger, refs)
	fetchDone := a.now()
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("assembly cancelled: %w", err))
	}

	// Composite.
	a.progress.SetPhase(progress.PhaseCompositing)
	for i := range items {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("assembly cancelled: %w", err))
		}
		it := &items[i]
		if it.err != nil {
			res.Failures = append(res.Failures, Failure{Index: i, Ref: refs[i], Stage: it.stage, Err: it.err})
			continue
		}
		res.Fetched++

		b := it.img.Bounds()
		if err := surf.Resize(b.Dx(), b.Dy()); err != nil {
			res.Failures = append(res.Failures, Failure{Index: i, Ref: refs[i], Stage: StageComposite, Err: err})
			release(it)
			continue
		}
		surf.Clear()
		surf.Draw(it.img)
		release(it)
		if a.effect != nil {
			a.effect.Apply(surf.Image(), it.ref, i)
			surf.Touch()
		}

		for tick := 0; tick < res.FramesPerImage; tick++ {
			if err := ctx.Err(); err != nil {
				return fail(fmt.Errorf("assembly cancelled: %w", err))
			}
			if err := rec.Capture(ctx, surf); err != nil {
				return fail(fmt.Errorf("capture photo %d: %w", i, err))
			}
			res.Ticks++
		}
		res.Composited++
		a.progress.IncComposited()
	}
	compositeDone := a.now()

	// Finalize.
	a.progress.SetPhase(progress.PhaseFinalizing)
	art, err := rec.Stop(ctx)
	stopped = true
	if err != nil {
		return fail(fmt.Errorf("finalize recording: %w", err))
	}
	res.Artifact = art
	end := a.now()

	res.Stats = Stats{
		Total:     end.Sub(start),
		Fetch:     fetchDone.Sub(start),
		Composite: compositeDone.Sub(fetchDone),
		Finalize:  end.Sub(compositeDone),
	}
	if secs := res.Stats.Total.Seconds(); secs > 0 {
		res.Stats.ImagesPerSecond = float64(res.Composited) / secs
	}

	if n := len(res.Failures); n > 0 {
		logger.Warn().Int("failed", n).Int("composited", res.Composited).Msg("some photos were skipped")
	}

	if res.Composited == 0 && !a.cfg.AllowEmptyArtifact {
		a.progress.SetPhase(progress.PhaseFailed)
		logger.Error().Int("failed", len(res.Failures)).Msg("no photo could be composited")
		return res, ErrNoFramesComposited
	}

	a.progress.SetPhase(progress.PhaseDone)
	logger.Info().Int("composited", res.Composited).Int("bytes", art.Size()).
		Dur("elapsed", res.Stats.Total).Msg("assembly finished")

	if a.cfg.ShowStats {
		res.Stats.Memory = system.ReadMemoryStats(ctx)
		a.report(logger, res)
	}
	return res, nil
}

// fetchAll fetches and decodes every photo with at most cfg.Workers in
// flight. Results are stored by index so completion order does not matter.
func (a *Assembler) fetchAll(ctx context.Context, logger zerolog.Logger, refs []photo.Ref) []decoded {
	items := make([]decoded, len(refs))

	workers := a.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)

	for i, ref := range refs {
		g.Go(func() error {
			items[i] = a.fetchOne(ctx, ref)
			if items[i].err != nil {
				logger.Warn().Err(items[i].err).Int("index", i).Str("file_id", ref.FileID).
					Str("stage", string(items[i].stage)).Msg("photo skipped")
			}
			a.progress.IncFetched()
			return nil
		})
	}
	g.Wait()
	return items
}

func (a *Assembler) fetchOne(ctx context.Context, ref photo.Ref) decoded {
	out := decoded{ref: ref}
	if ref.FileID == "" {
		out.stage, out.err = StageFetch, fmt.Errorf("%w: no file id in %q", source.ErrNotFound, ref.FileLink)
		return out
	}
	if err := ctx.Err(); err != nil {
		out.stage, out.err = StageFetch, err
		return out
	}

	fctx := ctx
	if a.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, a.cfg.FetchTimeout)
		defer cancel()
	}

	data, err := a.fetcher.Fetch(fctx, ref.FileID, a.token)
	if err != nil {
		out.stage, out.err = StageFetch, err
		return out
	}
	img, err := a.decoder.Decode(data)
	if err != nil {
		out.stage, out.err = StageDecode, err
		return out
	}
	out.img = img

	if ref.UploadDate == "" {
		if t, ok := decode.CaptureTime(data); ok {
			out.ref.UploadDate = t.Format("2006/01/02")
			out.ref.UploadTime = t.Format("3:04:05 PM")
		}
	}
	return out
}

// release drops the decoded image so it can be collected while later
// photos are still being composited.
func release(it *decoded) {
	it.img = nil
}

func wrapRecorderErr(err error) error {
	if errors.Is(err, ErrRecorderUnsupported) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRecorderUnsupported, err)
}
