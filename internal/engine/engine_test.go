package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ivlev/photo2video/internal/config"
	"github.com/ivlev/photo2video/internal/photo"
	"github.com/ivlev/photo2video/internal/progress"
	"github.com/ivlev/photo2video/internal/surface"
	"github.com/ivlev/photo2video/internal/video"
)

// fakeFetcher returns the file id as the payload. Per-id delays and
// errors let tests control completion order and failures.
type fakeFetcher struct {
	delays map[string]time.Duration
	errs   map[string]error
	hook   func(fileID string)

	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, fileID, _ string) ([]byte, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	if f.hook != nil {
		f.hook(fileID)
	}
	if d := f.delays[fileID]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[fileID]; err != nil {
		return nil, err
	}
	return []byte(fileID), nil
}

// fakeDecoder paints a 4x2 image whose red channel is the number in the
// file id ("p3" -> 3). Payloads starting with "bad" fail to decode.
type fakeDecoder struct{}

func (fakeDecoder) Decode(data []byte) (image.Image, error) {
	s := string(data)
	if strings.HasPrefix(s, "bad") {
		return nil, errors.New("corrupt image")
	}
	var n int
	if _, err := fmt.Sscanf(s, "p%d", &n); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(n), A: 255})
		}
	}
	return img, nil
}

// fakeRecorder remembers the red value of every captured frame.
type fakeRecorder struct {
	mu       sync.Mutex
	captured []uint8
	started  bool
	stopped  bool
	aborted  bool
	startErr error
}

func (r *fakeRecorder) Start(context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.started = true
	return nil
}

func (r *fakeRecorder) Capture(_ context.Context, f video.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captured = append(r.captured, f.Image().RGBAAt(0, 0).R)
	return nil
}

func (r *fakeRecorder) Stop(context.Context) (*video.Artifact, error) {
	r.stopped = true
	return &video.Artifact{Data: []byte("video"), MIMEType: "video/webm", FileName: "timelapse.webm"}, nil
}

func (r *fakeRecorder) Abort() { r.aborted = true }

// segments collapses consecutive captures of the same image.
func (r *fakeRecorder) segments() []uint8 {
	var out []uint8
	for i, v := range r.captured {
		if i == 0 || r.captured[i-1] != v {
			out = append(out, v)
		}
	}
	return out
}

func refs(ids ...string) []photo.Ref {
	out := make([]photo.Ref, len(ids))
	for i, id := range ids {
		out[i] = photo.Ref{FileID: id, Timestamp: "ts-" + id}
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workers = 4
	cfg.FetchTimeout = 2 * time.Second
	return cfg
}

func newTestAssembler(cfg *config.Config, f *fakeFetcher, rec *fakeRecorder, opts ...Option) *Assembler {
	factory := func(float64) (video.Recorder, error) { return rec, nil }
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return NewAssembler(cfg, f, fakeDecoder{}, factory, opts...)
}

func TestAssemblePreservesSelectionOrder(t *testing.T) {
	// Earlier photos finish fetching last.
	f := &fakeFetcher{delays: map[string]time.Duration{
		"p1": 40 * time.Millisecond,
		"p2": 30 * time.Millisecond,
		"p3": 20 * time.Millisecond,
		"p4": 10 * time.Millisecond,
	}}
	rec := &fakeRecorder{}
	a := newTestAssembler(testConfig(), f, rec)

	res, err := a.Assemble(context.Background(), refs("p1", "p2", "p3", "p4", "p5"), 10, 0.5)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if diff := cmp.Diff([]uint8{1, 2, 3, 4, 5}, rec.segments()); diff != "" {
		t.Errorf("segment order mismatch (-want +got):\n%s", diff)
	}
	if res.Composited != 5 || res.Fetched != 5 || res.Requested != 5 {
		t.Errorf("counts = %d/%d/%d", res.Composited, res.Fetched, res.Requested)
	}
	if res.Ticks != 25 || len(rec.captured) != 25 {
		t.Errorf("ticks = %d, captured = %d, want 25", res.Ticks, len(rec.captured))
	}
	if !rec.stopped || rec.aborted {
		t.Errorf("recorder stopped=%v aborted=%v", rec.stopped, rec.aborted)
	}
	if res.Artifact == nil || string(res.Artifact.Data) != "video" {
		t.Errorf("artifact = %+v", res.Artifact)
	}
	if res.RunID == "" {
		t.Error("empty run id")
	}
}

func TestAssembleSkipsFailedPhotos(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{"p2": errors.New("404")}}
	rec := &fakeRecorder{}
	a := newTestAssembler(testConfig(), f, rec)

	sel := refs("p1", "p2", "p3", "bad4", "p5")
	sel = append(sel, photo.Ref{Timestamp: "no-link", FileLink: "https://example.com/x"})

	res, err := a.Assemble(context.Background(), sel, 4, 1)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if diff := cmp.Diff([]uint8{1, 3, 5}, rec.segments()); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
	if res.Composited != 3 {
		t.Errorf("Composited = %d, want 3", res.Composited)
	}

	type brief struct {
		Index int
		Stage Stage
	}
	var got []brief
	for _, fl := range res.Failures {
		got = append(got, brief{fl.Index, fl.Stage})
	}
	want := []brief{{1, StageFetch}, {3, StageDecode}, {5, StageFetch}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	// The row without a file id never reaches the fetcher.
	if n := f.calls.Load(); n != 5 {
		t.Errorf("fetch calls = %d, want 5", n)
	}
}

func TestFailedFetchesCountAsFetched(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{"p1": errors.New("gone"), "p2": errors.New("gone")}}
	p := progress.New()
	a := newTestAssembler(testConfig(), f, &fakeRecorder{}, WithProgress(p))

	res, err := a.Assemble(context.Background(), refs("p1", "p2", "p3"), 4, 1)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if res.Composited != 1 || len(res.Failures) != 2 {
		t.Errorf("composited %d, failures %d; want 1 and 2", res.Composited, len(res.Failures))
	}
	want := progress.Snapshot{Phase: progress.PhaseDone, RunID: res.RunID, Total: 3, Fetched: 3, Composited: 1}
	if diff := cmp.Diff(want, p.Snapshot()); diff != "" {
		t.Errorf("final snapshot (-want +got):\n%s", diff)
	}
}

func TestSingleImageHeldSixtyTicks(t *testing.T) {
	rec := &fakeRecorder{}
	a := newTestAssembler(testConfig(), &fakeFetcher{}, rec)

	res, err := a.Assemble(context.Background(), refs("p7"), 30, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.captured) != 60 || res.FramesPerImage != 60 {
		t.Errorf("captured %d ticks (frames per image %d), want 60", len(rec.captured), res.FramesPerImage)
	}
}

func TestEmptySelectionIssuesNoFetch(t *testing.T) {
	f := &fakeFetcher{}
	var factoryCalls int
	factory := func(float64) (video.Recorder, error) {
		factoryCalls++
		return &fakeRecorder{}, nil
	}
	a := NewAssembler(testConfig(), f, fakeDecoder{}, factory, WithLogger(zerolog.Nop()))

	for _, sel := range [][]photo.Ref{nil, {}} {
		if _, err := a.Assemble(context.Background(), sel, 30, 2); !errors.Is(err, ErrEmptySelection) {
			t.Errorf("Assemble(empty) error = %v, want ErrEmptySelection", err)
		}
	}
	if f.calls.Load() != 0 || factoryCalls != 0 {
		t.Errorf("fetch calls = %d, recorder created %d times; want none", f.calls.Load(), factoryCalls)
	}
	if s := a.Progress().Snapshot(); s.Phase != progress.PhaseIdle {
		t.Errorf("phase = %s after rejected run, want idle", s.Phase)
	}
}

func TestInvalidTiming(t *testing.T) {
	a := newTestAssembler(testConfig(), &fakeFetcher{}, &fakeRecorder{})
	for _, tt := range [][2]float64{{0, 2}, {30, 0}, {-1, 1}, {1e10, 1e10}, {1e200, 1e200}} {
		if _, err := a.Assemble(context.Background(), refs("p1"), tt[0], tt[1]); !errors.Is(err, ErrInvalidTiming) {
			t.Errorf("Assemble(fps=%v, sec=%v) error = %v, want ErrInvalidTiming", tt[0], tt[1], err)
		}
	}
}

func TestAllPhotosFail(t *testing.T) {
	fail := map[string]error{"p1": errors.New("gone"), "p2": errors.New("gone")}

	t.Run("reported as error", func(t *testing.T) {
		rec := &fakeRecorder{}
		a := newTestAssembler(testConfig(), &fakeFetcher{errs: fail}, rec)

		res, err := a.Assemble(context.Background(), refs("p1", "p2"), 30, 2)
		if !errors.Is(err, ErrNoFramesComposited) {
			t.Fatalf("error = %v, want ErrNoFramesComposited", err)
		}
		if !rec.stopped {
			t.Error("recorder not stopped")
		}
		if res == nil || len(res.Failures) != 2 || res.Composited != 0 {
			t.Errorf("result = %+v", res)
		}
		if s := a.Progress().Snapshot(); s.Phase != progress.PhaseFailed {
			t.Errorf("phase = %s, want failed", s.Phase)
		}
	})

	t.Run("empty artifact allowed", func(t *testing.T) {
		cfg := testConfig()
		cfg.AllowEmptyArtifact = true
		rec := &fakeRecorder{}
		a := newTestAssembler(cfg, &fakeFetcher{errs: fail}, rec)

		res, err := a.Assemble(context.Background(), refs("p1", "p2"), 30, 2)
		if err != nil {
			t.Fatalf("error = %v, want nil", err)
		}
		if res.Artifact == nil || len(rec.captured) != 0 {
			t.Errorf("artifact = %v, captured = %d", res.Artifact, len(rec.captured))
		}
	})
}

func TestProgressInvariants(t *testing.T) {
	f := &fakeFetcher{delays: map[string]time.Duration{}}
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i+1)
		f.delays[ids[i]] = time.Duration(12-i) * time.Millisecond
	}
	p := progress.New()
	a := newTestAssembler(testConfig(), f, &fakeRecorder{}, WithProgress(p))

	done := make(chan struct{})
	var observed []progress.Snapshot
	go func() {
		defer close(done)
		for {
			s := p.Snapshot()
			observed = append(observed, s)
			if s.Done() {
				return
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	if _, err := a.Assemble(context.Background(), refs(ids...), 10, 0.2); err != nil {
		t.Fatal(err)
	}
	<-done

	var last progress.Snapshot
	for _, s := range observed {
		if s.Composited > s.Fetched {
			t.Fatalf("composited %d > fetched %d", s.Composited, s.Fetched)
		}
		if s.RunID == last.RunID && (s.Fetched < last.Fetched || s.Composited < last.Composited) {
			t.Fatalf("counters decreased: %+v -> %+v", last, s)
		}
		if s.Total > 0 && (s.Fetched > s.Total || s.Composited > s.Total) {
			t.Fatalf("counter above total: %+v", s)
		}
		last = s
	}
	if last.Fetched != 12 || last.Composited != 12 || last.Phase != progress.PhaseDone {
		t.Errorf("final snapshot = %+v", last)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	live := refs("p1", "p2", "p3")
	var once sync.Once
	f := &fakeFetcher{hook: func(string) {
		once.Do(func() {
			live[1] = photo.Ref{FileID: "p9"}
			live[2] = photo.Ref{FileID: "bad"}
		})
	}}
	rec := &fakeRecorder{}
	a := newTestAssembler(testConfig(), f, rec)

	if _, err := a.Assemble(context.Background(), live, 5, 1); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint8{1, 2, 3}, rec.segments()); diff != "" {
		t.Errorf("mutation leaked into the run (-want +got):\n%s", diff)
	}
}

func TestFetchConcurrencyIsBounded(t *testing.T) {
	f := &fakeFetcher{delays: map[string]time.Duration{}}
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i+1)
		f.delays[ids[i]] = 5 * time.Millisecond
	}
	cfg := testConfig()
	cfg.Workers = 3
	a := newTestAssembler(cfg, f, &fakeRecorder{})

	if _, err := a.Assemble(context.Background(), refs(ids...), 1, 1); err != nil {
		t.Fatal(err)
	}
	if m := f.maxSeen.Load(); m > 3 {
		t.Errorf("max concurrent fetches = %d, want <= 3", m)
	}
}

func TestFetchTimeoutSkipsPhoto(t *testing.T) {
	cfg := testConfig()
	cfg.FetchTimeout = 20 * time.Millisecond
	f := &fakeFetcher{delays: map[string]time.Duration{"p2": time.Minute}}
	rec := &fakeRecorder{}
	a := newTestAssembler(cfg, f, rec)

	res, err := a.Assemble(context.Background(), refs("p1", "p2", "p3"), 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint8{1, 3}, rec.segments()); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
	if len(res.Failures) != 1 || !errors.Is(res.Failures[0].Err, context.DeadlineExceeded) {
		t.Errorf("failures = %v", res.Failures)
	}
}

func TestCancelAbortsRecorder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetcher{hook: func(string) { cancel() }}
	rec := &fakeRecorder{}
	a := newTestAssembler(testConfig(), f, rec)

	_, err := a.Assemble(ctx, refs("p1", "p2"), 30, 2)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if !rec.aborted || rec.stopped {
		t.Errorf("recorder aborted=%v stopped=%v", rec.aborted, rec.stopped)
	}
	if s := a.Progress().Snapshot(); s.Phase != progress.PhaseFailed {
		t.Errorf("phase = %s, want failed", s.Phase)
	}
}

func TestConcurrentRunIsRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := &fakeFetcher{hook: func(string) {
		close(entered)
		<-release
	}}
	a := newTestAssembler(testConfig(), f, &fakeRecorder{})

	errc := make(chan error, 1)
	go func() {
		_, err := a.Assemble(context.Background(), refs("p1"), 1, 1)
		errc <- err
	}()

	<-entered
	if _, err := a.Assemble(context.Background(), refs("p2"), 1, 1); !errors.Is(err, ErrBusy) {
		t.Errorf("second Assemble error = %v, want ErrBusy", err)
	}
	close(release)
	if err := <-errc; err != nil {
		t.Errorf("first Assemble: %v", err)
	}
}

func TestRecorderUnsupported(t *testing.T) {
	f := &fakeFetcher{}
	rec := &fakeRecorder{startErr: errors.New("no ffmpeg")}
	a := newTestAssembler(testConfig(), f, rec)

	_, err := a.Assemble(context.Background(), refs("p1"), 30, 2)
	if !errors.Is(err, ErrRecorderUnsupported) {
		t.Fatalf("error = %v, want ErrRecorderUnsupported", err)
	}
	if f.calls.Load() != 0 {
		t.Errorf("fetch issued after recorder failure")
	}
}

func TestSurfaceUnavailable(t *testing.T) {
	f := &fakeFetcher{}
	rec := &fakeRecorder{}
	a := newTestAssembler(testConfig(), f, rec, WithSurface(func() (*surface.Surface, error) {
		return nil, errors.New("no display")
	}))

	_, err := a.Assemble(context.Background(), refs("p1"), 30, 2)
	if !errors.Is(err, ErrSurfaceUnavailable) {
		t.Fatalf("error = %v, want ErrSurfaceUnavailable", err)
	}
	if rec.started || f.calls.Load() != 0 {
		t.Errorf("recorder started=%v, fetch calls=%d", rec.started, f.calls.Load())
	}
}

type recordingEffect struct{ indexes []int }

func (e *recordingEffect) Apply(dst *image.RGBA, _ photo.Ref, index int) {
	e.indexes = append(e.indexes, index)
	dst.SetRGBA(0, 0, color.RGBA{R: 200, A: 255})
}

func TestEffectsApplyBeforeCapture(t *testing.T) {
	eff := &recordingEffect{}
	rec := &fakeRecorder{}
	a := newTestAssembler(testConfig(), &fakeFetcher{errs: map[string]error{"p2": errors.New("x")}}, rec, WithEffect(eff))

	if _, err := a.Assemble(context.Background(), refs("p1", "p2", "p3"), 1, 1); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{0, 2}, eff.indexes); diff != "" {
		t.Errorf("effect indexes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint8{200}, rec.segments()); diff != "" {
		t.Errorf("captured frames did not include the overlay (-want +got):\n%s", diff)
	}
}

func TestStatsReportAppendsBenchmarkLine(t *testing.T) {
	cfg := testConfig()
	cfg.ShowStats = true
	cfg.BuildVersion = "test-build"
	logPath := filepath.Join(t.TempDir(), "benchmark.log")

	a := newTestAssembler(cfg, &fakeFetcher{}, &fakeRecorder{}, WithBenchmarkLog(logPath))
	res, err := a.Assemble(context.Background(), refs("p1", "p2"), 2, 1)
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	for _, want := range []string{"Build: test-build", "Run: " + res.RunID, "Photos: 2/2"} {
		if !strings.Contains(line, want) {
			t.Errorf("benchmark line %q missing %q", line, want)
		}
	}
}
