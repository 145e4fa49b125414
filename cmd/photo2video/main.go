package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ivlev/photo2video/internal/config"
	"github.com/ivlev/photo2video/internal/logging"
	"github.com/ivlev/photo2video/internal/system"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configFlag   string
	logLevelFlag string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "photo2video",
	Short: "Assemble timelapse videos from a shared photo gallery",
	Long: `photo2video imports the photo gallery spreadsheet (or a CSV export of it),
lets you filter and select photos, and assembles the selection into a
timelapse: every photo is held on screen for a fixed number of seconds at
the configured frame rate.

Examples:
  photo2video photos --location Gate --sort time-asc
  photo2video assemble --location Gate --fps 30 --seconds-per-image 2
  photo2video assemble --manifest output/timelapse_2026-02-13_10-00-00.yaml
  photo2video serve --addr :8080`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFlag)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevelFlag
		}
		cfg.BuildVersion = version
		logging.Init(cfg.LogLevel)
		system.InitResourceLimits()
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(assembleCmd, photosCmd, serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("photo2video failed")
		os.Exit(1)
	}
}
