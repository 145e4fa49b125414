package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ivlev/photo2video/internal/config"
	"github.com/ivlev/photo2video/internal/photo"
	"github.com/ivlev/photo2video/internal/sheets"
	"github.com/ivlev/photo2video/internal/storage"
	"github.com/ivlev/photo2video/internal/web"
)

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gallery HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (default from config: :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = addrFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	imp, err := sheets.New(cfg.Sheets, config.Token())
	switch {
	case errors.Is(err, sheets.ErrNoSource) && cfg.Source.Kind == config.SourceDir:
		imp = dirImporter(cfg.Source.Dir)
	case err != nil:
		return err
	}

	asm, err := newAssembler(ctx, cfg)
	if err != nil {
		return err
	}

	var opts []web.StateOption
	if cfg.Publish.Enabled {
		store, err := storage.New(cfg.Source)
		if err != nil {
			return err
		}
		opts = append(opts, web.WithStore(store))
	}

	state := web.NewAppState(ctx, cfg, imp, asm, opts...)
	if n, err := state.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("initial photo import failed; use POST /api/photos/reload")
	} else {
		log.Info().Int("photos", n).Msg("photos imported")
	}

	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	return web.Serve(ctx, cfg.Server.Addr, state)
}

// dirImporter lists a local photo directory as the gallery.
type dirImporter string

func (d dirImporter) Import(ctx context.Context) ([]photo.Ref, error) {
	return listDir(string(d))
}
