package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ivlev/photo2video/internal/config"
	"github.com/ivlev/photo2video/internal/manifest"
	"github.com/ivlev/photo2video/internal/photo"
	"github.com/ivlev/photo2video/internal/sheets"
	"github.com/ivlev/photo2video/internal/source"
)

// Filter and sort flags shared by photos and assemble.
var (
	locationFlag  string
	fromFlag      string
	toFlag        string
	timeFromFlag  string
	timeToFlag    string
	flaggedFlag   bool
	favoritesFlag bool
	sortFlag      string
	manifestFlag  string
)

var (
	pageFlag         int
	pageSizeFlag     int
	saveManifestFlag bool
)

var photosCmd = &cobra.Command{
	Use:   "photos",
	Short: "List the gallery photos after filtering and sorting",
	RunE:  runPhotos,
}

func init() {
	for _, cmd := range []*cobra.Command{photosCmd, assembleCmd} {
		f := cmd.Flags()
		f.StringVar(&locationFlag, "location", "", "Only photos taken at this location")
		f.StringVar(&fromFlag, "from", "", "Earliest upload date, YYYY-MM-DD")
		f.StringVar(&toFlag, "to", "", "Latest upload date, YYYY-MM-DD")
		f.StringVar(&timeFromFlag, "time-from", "", "Earliest upload time of day, HH:MM")
		f.StringVar(&timeToFlag, "time-to", "", "Latest upload time of day, HH:MM")
		f.BoolVar(&flaggedFlag, "flagged", false, "Only flagged photos")
		f.BoolVar(&favoritesFlag, "favorites", false, "Only favorite photos")
		f.StringVar(&sortFlag, "sort", "", "Sort: time-asc, time-desc, location-asc, location-desc, uploader-asc, uploader-desc")
		f.StringVar(&manifestFlag, "manifest", "", "Read photos from a timelapse manifest instead of the gallery")
	}
	photosCmd.Flags().IntVar(&pageFlag, "page", 0, "Page to print (0 = all)")
	photosCmd.Flags().IntVar(&pageSizeFlag, "size", photo.DefaultPageSize, "Page size")
	photosCmd.Flags().BoolVar(&saveManifestFlag, "save-manifest", false, "Write the listed photos as a timelapse manifest to the output dir")
}

func runPhotos(cmd *cobra.Command, args []string) error {
	refs, err := loadPhotos(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	refs, err = filterAndSort(refs)
	if err != nil {
		return err
	}

	shown := refs
	more := false
	if pageFlag > 0 {
		shown, more = photo.Paginate(refs, pageFlag, pageSizeFlag)
	}

	fmt.Printf("Photos: %d (locations: %s)\n", len(refs), strings.Join(photo.Locations(refs), ", "))
	fmt.Println("--------------------------------------------")
	for _, r := range shown {
		marks := ""
		if r.Flagged {
			marks += " [flagged]"
		}
		if r.Favorite {
			marks += " [favorite]"
		}
		fmt.Printf("  %-34s %s%s\n", r.FileID, r.Caption(), marks)
	}
	if more {
		fmt.Printf("(more on page %d)\n", pageFlag+1)
	}

	if saveManifestFlag {
		path := manifest.GeneratePath(cfg.OutputDir, time.Now())
		if err := manifest.Write(manifest.New(refs, cfg.FPS, cfg.SecondsPerImage), path); err != nil {
			return err
		}
		fmt.Printf("Manifest written: %s\n", path)
	}
	return nil
}

// loadPhotos reads the manifest named by --manifest, or imports the
// gallery. With no sheet configured and a directory source, every image in
// the directory becomes a photo.
func loadPhotos(ctx context.Context, cfg *config.Config) ([]photo.Ref, error) {
	if manifestFlag != "" {
		path := manifestFlag
		if path == "latest" {
			latest, err := manifest.FindLatest(cfg.OutputDir)
			if err != nil {
				return nil, err
			}
			path = latest
		}
		m, err := manifest.Read(path)
		if err != nil {
			return nil, err
		}
		if m.FPS > 0 && !fpsSet {
			cfg.FPS = m.FPS
		}
		if m.SecondsPerImage > 0 && !secondsSet {
			cfg.SecondsPerImage = m.SecondsPerImage
		}
		log.Info().Str("path", path).Int("photos", len(m.Photos)).Msg("manifest loaded")
		return m.Refs(), nil
	}

	imp, err := sheets.New(cfg.Sheets, config.Token())
	if errors.Is(err, sheets.ErrNoSource) && cfg.Source.Kind == config.SourceDir {
		return listDir(cfg.Source.Dir)
	}
	if err != nil {
		return nil, err
	}
	return imp.Import(ctx)
}

func listDir(dir string) ([]photo.Ref, error) {
	d, err := source.NewDirFetcher(dir)
	if err != nil {
		return nil, err
	}
	ids, err := d.List()
	if err != nil {
		return nil, err
	}
	refs := make([]photo.Ref, len(ids))
	for i, id := range ids {
		refs[i] = photo.Ref{FileID: id, FileLink: filepath.Join(dir, id)}
	}
	return refs, nil
}

func parseFilterFlags() (photo.Filter, error) {
	f := photo.Filter{
		Location:      locationFlag,
		FlaggedOnly:   flaggedFlag,
		FavoritesOnly: favoritesFlag,
	}
	var err error
	if fromFlag != "" {
		if f.From, err = time.Parse("2006-01-02", fromFlag); err != nil {
			return f, fmt.Errorf("--from: %w", err)
		}
	}
	if toFlag != "" {
		if f.To, err = time.Parse("2006-01-02", toFlag); err != nil {
			return f, fmt.Errorf("--to: %w", err)
		}
	}
	var ok bool
	if timeFromFlag != "" {
		if f.TimeFrom, ok = photo.ParseClock(timeFromFlag); !ok {
			return f, fmt.Errorf("--time-from: want HH:MM, got %q", timeFromFlag)
		}
	}
	if timeToFlag != "" {
		if f.TimeTo, ok = photo.ParseClock(timeToFlag); !ok {
			return f, fmt.Errorf("--time-to: want HH:MM, got %q", timeToFlag)
		}
	}
	return f, nil
}

func filterAndSort(refs []photo.Ref) ([]photo.Ref, error) {
	f, err := parseFilterFlags()
	if err != nil {
		return nil, err
	}
	return photo.Sort(f.Apply(refs), sortFlag), nil
}
