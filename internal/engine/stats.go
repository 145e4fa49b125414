package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/photo2video/internal/system"
)

// Stats holds per-phase timings of a run.
type Stats struct {
	Total           time.Duration
	Fetch           time.Duration
	Composite       time.Duration
	Finalize        time.Duration
	ImagesPerSecond float64
	Memory          system.MemoryStats
}

// report logs the performance report and appends one line per run to the
// benchmark log.
func (a *Assembler) report(logger zerolog.Logger, res *Result) {
	s := res.Stats
	logger.Info().
		Str("build", a.cfg.BuildVersion).
		Dur("total", s.Total).
		Dur("fetch", s.Fetch).
		Dur("composite", s.Composite).
		Dur("finalize", s.Finalize).
		Float64("images_per_sec", s.ImagesPerSecond).
		Uint64("rss_bytes", s.Memory.ProcessRSS).
		Float64("system_mem_used_pct", s.Memory.SystemUsed).
		Msg("performance report")

	if a.benchmarkLog == "" {
		return
	}
	f, err := os.OpenFile(a.benchmarkLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.Warn().Err(err).Str("path", a.benchmarkLog).Msg("benchmark log not written")
		return
	}
	defer f.Close()

	if _, err := f.WriteString(benchmarkLine(a.now(), a.cfg.BuildVersion, res)); err != nil {
		logger.Warn().Err(err).Str("path", a.benchmarkLog).Msg("benchmark log not written")
	}
}

func benchmarkLine(at time.Time, build string, res *Result) string {
	s := res.Stats
	return fmt.Sprintf("[%s] Build: %s | Run: %s | Photos: %d/%d | Total: %.2fs | Fetch: %.2fs | Composite: %.2fs | Finalize: %.2fs | IPS: %.2f | RSS: %dMB\n",
		at.Format("2006-01-02 15:04:05"),
		build,
		res.RunID,
		res.Composited,
		res.Requested,
		s.Total.Seconds(),
		s.Fetch.Seconds(),
		s.Composite.Seconds(),
		s.Finalize.Seconds(),
		s.ImagesPerSecond,
		s.Memory.ProcessRSS>>20,
	)
}
