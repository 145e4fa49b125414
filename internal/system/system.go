package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrNoMatch is returned by FindLatest when the directory holds no file
// with one of the requested extensions.
var ErrNoMatch = errors.New("no matching files")

// InitResourceLimits raises the open-file soft limit. Concurrent fetches
// each hold a socket, and ffmpeg holds pipes on top of that.
func InitResourceLimits() {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warn().Err(err).Msg("read open-file limit")
		return
	}

	want := uint64(2048)
	if want > rLimit.Max {
		want = rLimit.Max
	}
	if rLimit.Cur >= want {
		return
	}
	rLimit.Cur = want

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warn().Err(err).Msg("raise open-file limit")
		return
	}
	log.Debug().Uint64("limit", rLimit.Cur).Msg("open-file limit raised")
}

// FindLatest returns the most recently modified file in dir whose extension
// is one of exts (case-insensitive, with the leading dot).
func FindLatest(dir string, exts ...string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latest string
	var latestTime time.Time
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), exts) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latest = filepath.Join(dir, e.Name())
		}
	}

	if latest == "" {
		return "", fmt.Errorf("%s: %w (%s)", dir, ErrNoMatch, strings.Join(exts, ", "))
	}
	return latest, nil
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// FFmpegPath locates the ffmpeg binary on PATH.
func FFmpegPath() (string, error) {
	return exec.LookPath("ffmpeg")
}

// GetBestH264Encoder picks a hardware H.264 encoder when ffmpeg lists one,
// falling back to libx264.
func GetBestH264Encoder(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-encoders").CombinedOutput()
	if err != nil {
		return "libx264"
	}
	return pickEncoder(string(out))
}

func pickEncoder(listing string) string {
	for _, name := range []string{"h264_videotoolbox", "h264_nvenc"} {
		if strings.Contains(listing, name) {
			return name
		}
	}
	return "libx264"
}

// MemoryStats is the memory section of the run report.
type MemoryStats struct {
	ProcessRSS  uint64
	SystemTotal uint64
	SystemUsed  float64 // percent
}

// ReadMemoryStats samples process RSS and system memory. Fields that cannot
// be read are left zero.
func ReadMemoryStats(ctx context.Context) MemoryStats {
	var s MemoryStats
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.SystemTotal = vm.Total
		s.SystemUsed = vm.UsedPercent
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSS = info.RSS
		}
	}
	return s
}
