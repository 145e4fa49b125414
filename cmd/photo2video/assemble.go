package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ivlev/photo2video/internal/config"
	"github.com/ivlev/photo2video/internal/decode"
	"github.com/ivlev/photo2video/internal/effects"
	"github.com/ivlev/photo2video/internal/engine"
	"github.com/ivlev/photo2video/internal/manifest"
	"github.com/ivlev/photo2video/internal/photo"
	"github.com/ivlev/photo2video/internal/progress"
	"github.com/ivlev/photo2video/internal/source"
	"github.com/ivlev/photo2video/internal/storage"
	"github.com/ivlev/photo2video/internal/video"
)

var (
	fpsFlag          float64
	secondsFlag      float64
	workersFlag      int
	formatFlag       string
	outputDirFlag    string
	selectFlag       []string
	captionsFlag     bool
	qrFlag           bool
	allowEmptyFlag   bool
	statsFlag        bool
	publishFlag      bool
	writeManifest    bool
	fetchTimeoutFlag time.Duration

	// Set when the timing flags were given, so a manifest does not override them.
	fpsSet, secondsSet bool
)

var assembleCmd = &cobra.Command{
	Use:   "assemble",
	Short: "Build a timelapse from the selected photos",
	Long: `Assemble fetches the selected photos concurrently, composites them in
selection order and records the result. Photos that cannot be fetched or
decoded are skipped and reported at the end.

By default every photo that passes the filter flags is selected. Use
--select to pick photos by file id; they appear in the order given.`,
	RunE: runAssemble,
}

func init() {
	f := assembleCmd.Flags()
	f.Float64Var(&fpsFlag, "fps", 0, "Frames per second (default from config: 30)")
	f.Float64Var(&secondsFlag, "seconds-per-image", 0, "Seconds each photo stays on screen (default from config: 2)")
	f.IntVar(&workersFlag, "workers", 0, "Concurrent fetches (default: number of CPUs)")
	f.StringVar(&formatFlag, "format", "", "Output format: webm, mp4, gif")
	f.StringVar(&outputDirFlag, "output-dir", "", "Directory the timelapse is written to")
	f.StringSliceVar(&selectFlag, "select", nil, "File ids to select, in output order")
	f.BoolVar(&captionsFlag, "captions", false, "Draw the photo caption on every frame")
	f.BoolVar(&qrFlag, "qr", false, "Draw a QR code linking to the source photo")
	f.BoolVar(&allowEmptyFlag, "allow-empty", false, "Return an empty timelapse instead of failing when every photo fails")
	f.BoolVar(&statsFlag, "stats", false, "Log a performance report and append it to benchmark.log")
	f.BoolVar(&publishFlag, "publish", false, "Upload the timelapse to the object store and print a download link")
	f.BoolVar(&writeManifest, "write-manifest", false, "Save the selection as a manifest next to the timelapse")
	f.DurationVar(&fetchTimeoutFlag, "fetch-timeout", 0, "Timeout for a single photo download")
}

func applyAssembleFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	fpsSet, secondsSet = f.Changed("fps"), f.Changed("seconds-per-image")
	if fpsSet {
		cfg.FPS = fpsFlag
	}
	if secondsSet {
		cfg.SecondsPerImage = secondsFlag
	}
	if f.Changed("workers") {
		cfg.Workers = workersFlag
	}
	if f.Changed("format") {
		cfg.Format = strings.ToLower(formatFlag)
	}
	if f.Changed("output-dir") {
		cfg.OutputDir = outputDirFlag
	}
	if f.Changed("fetch-timeout") {
		cfg.FetchTimeout = fetchTimeoutFlag
	}
	cfg.Captions = cfg.Captions || captionsFlag
	cfg.QRCode = cfg.QRCode || qrFlag
	cfg.AllowEmptyArtifact = cfg.AllowEmptyArtifact || allowEmptyFlag
	cfg.ShowStats = cfg.ShowStats || statsFlag
	cfg.Publish.Enabled = cfg.Publish.Enabled || publishFlag
	return cfg.Validate()
}

func runAssemble(cmd *cobra.Command, args []string) error {
	if err := applyAssembleFlags(cmd, cfg); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	refs, err := loadPhotos(ctx, cfg)
	if err != nil {
		return err
	}
	// Manifest timing is applied by loadPhotos.
	if err := cfg.Validate(); err != nil {
		return err
	}
	refs, err = filterAndSort(refs)
	if err != nil {
		return err
	}
	sel, err := buildSelection(refs, selectFlag)
	if err != nil {
		return err
	}

	asm, err := newAssembler(ctx, cfg)
	if err != nil {
		return err
	}

	snapshot := sel.Snapshot()
	fmt.Printf("Selected %d photos, %.3g s each at %.3g fps\n", len(snapshot), cfg.SecondsPerImage, cfg.FPS)

	watchCtx, stopWatch := context.WithCancel(ctx)
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		progress.Watch(watchCtx, asm.Progress(), time.Second, func(s progress.Snapshot) {
			log.Info().Str("phase", string(s.Phase)).Int64("fetched", s.Fetched).
				Int64("composited", s.Composited).Int64("total", s.Total).Msg("progress")
		})
	}()

	res, err := asm.Assemble(ctx, snapshot, cfg.FPS, cfg.SecondsPerImage)
	stopWatch()
	<-watched

	if res != nil {
		for _, f := range res.Failures {
			fmt.Printf("  skipped #%d %s (%s): %v\n", f.Index+1, f.Ref.FileID, f.Stage, f.Err)
		}
	}
	if err != nil {
		return err
	}

	path, err := res.Artifact.WriteFile(cfg.OutputDir)
	if err != nil {
		return err
	}
	fmt.Printf("Timelapse: %s (%d of %d photos, %d frames)\n", path, res.Composited, res.Requested, res.Ticks)

	if writeManifest {
		mpath := manifest.GeneratePath(cfg.OutputDir, time.Now())
		if err := manifest.Write(manifest.New(snapshot, cfg.FPS, cfg.SecondsPerImage), mpath); err != nil {
			return err
		}
		fmt.Printf("Manifest: %s\n", mpath)
	}

	if cfg.Publish.Enabled {
		store, err := storage.New(cfg.Source)
		if err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		a := res.Artifact
		link, err := store.Publish(ctx, cfg.Publish, res.RunID, a.FileName, a.MIMEType, a.Data)
		if err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		fmt.Printf("Download: %s\n", link)
	}
	return nil
}

// buildSelection selects every ref, or only the listed file ids in the
// order given.
func buildSelection(refs []photo.Ref, ids []string) (*photo.Selection, error) {
	if len(ids) == 0 {
		return photo.NewSelection(refs...), nil
	}
	byID := make(map[string]photo.Ref, len(refs))
	for _, r := range refs {
		byID[r.FileID] = r
	}
	sel := photo.NewSelection()
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("--select: no photo with file id %q after filtering", id)
		}
		sel.Add(r)
	}
	return sel, nil
}

func newAssembler(ctx context.Context, cfg *config.Config) (*engine.Assembler, error) {
	fetcher, err := source.NewFetcher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	factory, err := video.NewFactory(cfg)
	if err != nil {
		return nil, err
	}
	return engine.NewAssembler(cfg, fetcher, decode.NewStdDecoder(cfg.DPI), factory,
		engine.WithEffect(effects.New(cfg)),
		engine.WithToken(config.Token()),
	), nil
}
