// Package web is the HTTP front end of the gallery: browse and filter the
// imported photos, build a selection, start a timelapse and download it.
package web

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ivlev/photo2video/internal/config"
	"github.com/ivlev/photo2video/internal/engine"
	"github.com/ivlev/photo2video/internal/photo"
	"github.com/ivlev/photo2video/internal/progress"
	"github.com/ivlev/photo2video/internal/sheets"
	"github.com/ivlev/photo2video/internal/storage"
	"github.com/ivlev/photo2video/internal/video"
)

var (
	errPhotoNotFound = errors.New("photo not found")
	errReadOnly      = errors.New("photo source does not support edits")
)

// AppState is everything the handlers share. One timelapse runs at a time.
type AppState struct {
	cfg       *config.Config
	importer  sheets.Importer
	assembler *engine.Assembler
	selection *photo.Selection
	store     *storage.Store
	baseCtx   context.Context

	mu        sync.RWMutex
	photos    []photo.Ref
	artifact  *video.Artifact
	result    *engine.Result
	lastErr   error
	published string
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type StateOption func(*AppState)

// WithStore publishes finished artifacts when cfg.Publish is enabled.
func WithStore(store *storage.Store) StateOption {
	return func(s *AppState) { s.store = store }
}

// NewAppState builds the shared state. Runs started over HTTP are children
// of ctx so that server shutdown cancels them.
func NewAppState(ctx context.Context, cfg *config.Config, importer sheets.Importer, assembler *engine.Assembler, opts ...StateOption) *AppState {
	s := &AppState{
		cfg:       cfg,
		importer:  importer,
		assembler: assembler,
		selection: photo.NewSelection(),
		baseCtx:   ctx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reload imports the photo list again. The selection is kept.
func (s *AppState) Reload(ctx context.Context) (int, error) {
	refs, err := s.importer.Import(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.photos = refs
	s.mu.Unlock()
	return len(refs), nil
}

func (s *AppState) Photos() []photo.Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.photos
}

func (s *AppState) find(id string) (photo.Ref, bool) {
	for _, r := range s.Photos() {
		if r.FileID == id || r.Key() == id {
			return r, true
		}
	}
	return photo.Ref{}, false
}

func (s *AppState) editor() (sheets.Editor, error) {
	ed, ok := s.importer.(sheets.Editor)
	if !ok {
		return nil, errReadOnly
	}
	return ed, nil
}

// SetFlag writes the photo's flag back to the sheet and updates the local
// list. A nil flagged toggles the current value.
func (s *AppState) SetFlag(ctx context.Context, id string, flagged *bool) (photo.Ref, error) {
	ed, err := s.editor()
	if err != nil {
		return photo.Ref{}, err
	}
	r, ok := s.find(id)
	if !ok {
		return photo.Ref{}, errPhotoNotFound
	}
	want := !r.Flagged
	if flagged != nil {
		want = *flagged
	}
	if err := ed.Flag(ctx, r, want); err != nil {
		return photo.Ref{}, err
	}
	r.Flagged = want

	s.mu.Lock()
	defer s.mu.Unlock()
	photos := make([]photo.Ref, len(s.photos))
	copy(photos, s.photos)
	for i := range photos {
		if photos[i].Key() == r.Key() {
			photos[i] = r
		}
	}
	s.photos = photos
	return r, nil
}

// DeletePhoto deletes the photo at its source and drops it from the list
// and the selection.
func (s *AppState) DeletePhoto(ctx context.Context, id string) error {
	ed, err := s.editor()
	if err != nil {
		return err
	}
	r, ok := s.find(id)
	if !ok {
		return errPhotoNotFound
	}
	if err := ed.Delete(ctx, r); err != nil {
		return err
	}
	s.selection.Remove(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	photos := make([]photo.Ref, 0, len(s.photos))
	for _, p := range s.photos {
		if p.Key() != r.Key() {
			photos = append(photos, p)
		}
	}
	s.photos = photos
	return nil
}

// StartRun snapshots the selection and assembles it in the background.
// Input and busy errors are returned synchronously.
func (s *AppState) StartRun(fps, secondsPerImage float64) (int, error) {
	refs := s.selection.Snapshot()
	if len(refs) == 0 {
		return 0, engine.ErrEmptySelection
	}
	if err := config.ValidateTiming(fps, secondsPerImage); err != nil {
		return 0, fmt.Errorf("%w: %w", engine.ErrInvalidTiming, err)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0, engine.ErrBusy
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.running = true
	s.cancel = cancel
	s.lastErr = nil
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run(ctx, refs, fps, secondsPerImage)
	}()
	return len(refs), nil
}

func (s *AppState) run(ctx context.Context, refs []photo.Ref, fps, secondsPerImage float64) {
	res, err := s.assembler.Assemble(ctx, refs, fps, secondsPerImage)

	var link string
	var publishErr error
	if err == nil && s.store != nil && s.cfg.Publish.Enabled {
		a := res.Artifact
		link, publishErr = s.store.Publish(ctx, s.cfg.Publish, res.RunID, a.FileName, a.MIMEType, a.Data)
		if publishErr != nil {
			log.Error().Err(publishErr).Str("run_id", res.RunID).Msg("publish failed")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.cancel = nil
	s.lastErr = err
	if res != nil {
		s.result = res
	}
	if err == nil {
		s.artifact = res.Artifact
		s.published = link
		if publishErr != nil {
			s.lastErr = fmt.Errorf("publish: %w", publishErr)
		}
	}
}

// CancelRun stops the active run. It reports whether one was running.
func (s *AppState) CancelRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Wait blocks until the background run, if any, has finished.
func (s *AppState) Wait() {
	s.wg.Wait()
}

// Status is what the progress endpoint reports.
type Status struct {
	progress.Snapshot
	Running      bool   `json:"running"`
	Error        string `json:"error,omitempty"`
	Segments     int    `json:"segments,omitempty"`
	Failed       int    `json:"photos_failed,omitempty"`
	ArtifactSize int    `json:"artifact_size,omitempty"`
	PublishedURL string `json:"published_url,omitempty"`
}

func (s *AppState) Status() Status {
	st := Status{Snapshot: s.assembler.Progress().Snapshot()}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st.Running = s.running
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	if s.result != nil && !s.running {
		st.Segments = s.result.Composited
		st.Failed = len(s.result.Failures)
	}
	if s.artifact != nil {
		st.ArtifactSize = s.artifact.Size()
	}
	st.PublishedURL = s.published
	return st
}

// Artifact returns the last successfully finished recording.
func (s *AppState) Artifact() *video.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifact
}
