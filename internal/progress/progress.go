// Package progress exposes the counters an assembly run publishes while it
// works. Only the assembler writes; any number of readers may poll Snapshot.
package progress

import (
	"context"
	"sync/atomic"
	"time"
)

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseFetching    Phase = "fetching"
	PhaseCompositing Phase = "compositing"
	PhaseFinalizing  Phase = "finalizing"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	Phase      Phase  `json:"phase"`
	RunID      string `json:"run_id,omitempty"`
	Total      int64  `json:"total"`
	Fetched    int64  `json:"fetched"`
	Composited int64  `json:"composited"`
}

// Done reports whether the run has reached a terminal phase.
func (s Snapshot) Done() bool {
	return s.Phase == PhaseDone || s.Phase == PhaseFailed
}

// Progress holds the live counters. The zero value is idle and ready to use.
type Progress struct {
	total      atomic.Int64
	fetched    atomic.Int64
	composited atomic.Int64
	phase      atomic.Value // Phase
	runID      atomic.Value // string
}

func New() *Progress {
	return &Progress{}
}

// Begin resets the counters for a new run of total items. composited is
// cleared before fetched; Snapshot relies on that order.
func (p *Progress) Begin(runID string, total int) {
	p.composited.Store(0)
	p.fetched.Store(0)
	p.total.Store(int64(total))
	p.runID.Store(runID)
	p.phase.Store(PhaseFetching)
}

func (p *Progress) IncFetched() {
	p.fetched.Add(1)
}

// IncComposited never lets composited overtake fetched.
func (p *Progress) IncComposited() {
	for {
		c := p.composited.Load()
		if c >= p.fetched.Load() {
			return
		}
		if p.composited.CompareAndSwap(c, c+1) {
			return
		}
	}
}

func (p *Progress) SetPhase(phase Phase) {
	p.phase.Store(phase)
}

// Snapshot reads composited before fetched so that a concurrent writer can
// never produce an observation with composited > fetched. A read that
// straddles Begin sees the old composited with the new fetched; it is
// retried, and by then composited has been cleared.
func (p *Progress) Snapshot() Snapshot {
	s := Snapshot{Phase: PhaseIdle}
	if ph, ok := p.phase.Load().(Phase); ok {
		s.Phase = ph
	}
	if id, ok := p.runID.Load().(string); ok {
		s.RunID = id
	}
	for {
		s.Composited = p.composited.Load()
		s.Fetched = p.fetched.Load()
		if s.Composited <= s.Fetched {
			break
		}
	}
	s.Total = p.total.Load()
	return s
}

// Watch calls fn with a snapshot every interval until ctx is done or the run
// reaches a terminal phase, then once more with the final state.
func Watch(ctx context.Context, p *Progress, interval time.Duration, fn func(Snapshot)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fn(p.Snapshot())
			return
		case <-ticker.C:
			s := p.Snapshot()
			fn(s)
			if s.Done() {
				return
			}
		}
	}
}
