// Package sheets imports the photo gallery's rows, either live from the
// Google Sheets form responses or from a CSV export of the same sheet.
// The live sheet can also be edited: photos flagged or deleted.
package sheets

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/ivlev/photo2video/internal/config"
	"github.com/ivlev/photo2video/internal/photo"
	"github.com/ivlev/photo2video/internal/system"
)

// DefaultRange is the tab a Google Form writes its responses to.
const DefaultRange = "Form Responses 1"

// Spreadsheet columns written back by Editor.
const (
	flagColumn  = "G"
	firstColumn = "A"
	lastColumn  = "H"
	flagValue   = "Yes"
)

var (
	ErrNoSource = errors.New("no spreadsheet id or csv path configured")
	ErrNoRow    = errors.New("photo has no spreadsheet row")
)

type Importer interface {
	Import(ctx context.Context) ([]photo.Ref, error)
}

// Editor writes gallery changes back to where the photos came from.
type Editor interface {
	// Flag sets or clears the photo's Flagged cell.
	Flag(ctx context.Context, ref photo.Ref, flagged bool) error
	// Delete removes the photo's file and blanks its row.
	Delete(ctx context.Context, ref photo.Ref) error
}

// New picks the CSV importer when a CSV path is configured and the Sheets
// importer otherwise. A directory as CSV path means the newest export in it.
func New(cfg config.SheetsConfig, token string) (Importer, error) {
	if cfg.CSVPath != "" {
		path := cfg.CSVPath
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			latest, err := FindLatestCSV(path)
			if err != nil {
				return nil, err
			}
			path = latest
		}
		return NewCSVImporter(path), nil
	}
	if cfg.SpreadsheetID == "" {
		return nil, ErrNoSource
	}
	return NewSheetsImporter(cfg.SpreadsheetID, cfg.Endpoint, token).WithDriveEndpoint(cfg.DriveEndpoint), nil
}

// SheetsImporter reads the first tab of a spreadsheet through the Sheets v4
// API with the user's bearer token. It implements Editor; deletes also go
// through the Drive v3 API.
type SheetsImporter struct {
	spreadsheetID string
	endpoint      string
	driveEndpoint string
	token         string
	base          http.RoundTripper
}

func NewSheetsImporter(spreadsheetID, endpoint, token string) *SheetsImporter {
	return &SheetsImporter{
		spreadsheetID: spreadsheetID,
		endpoint:      endpoint,
		token:         token,
		base:          http.DefaultTransport,
	}
}

// WithDriveEndpoint points photo deletes at a non-default Drive API.
func (s *SheetsImporter) WithDriveEndpoint(endpoint string) *SheetsImporter {
	s.driveEndpoint = endpoint
	return s
}

func (s *SheetsImporter) options(endpoint string) []option.ClientOption {
	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.token, TokenType: "Bearer"}),
			Base:   s.base,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}

func (s *SheetsImporter) service(ctx context.Context) (*gsheets.Service, error) {
	srv, err := gsheets.NewService(ctx, s.options(s.endpoint)...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return srv, nil
}

// firstTab is the title of the spreadsheet's first tab, or DefaultRange
// when the metadata cannot be read.
func (s *SheetsImporter) firstTab(ctx context.Context, srv *gsheets.Service) string {
	meta, err := srv.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	switch {
	case err != nil:
		log.Warn().Err(err).Str("spreadsheet", s.spreadsheetID).Str("range", DefaultRange).
			Msg("spreadsheet metadata unavailable, using default range")
	case len(meta.Sheets) > 0 && meta.Sheets[0].Properties != nil:
		return meta.Sheets[0].Properties.Title
	}
	return DefaultRange
}

func (s *SheetsImporter) Import(ctx context.Context) ([]photo.Ref, error) {
	srv, err := s.service(ctx)
	if err != nil {
		return nil, err
	}

	rng := s.firstTab(ctx, srv)
	vr, err := srv.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s!%s: %w", s.spreadsheetID, rng, err)
	}

	values := make([][]string, len(vr.Values))
	for i, row := range vr.Values {
		values[i] = make([]string, len(row))
		for j, c := range row {
			values[i][j] = fmt.Sprint(c)
		}
	}
	refs := photo.ParseRows(values)
	log.Info().Str("spreadsheet", s.spreadsheetID).Str("range", rng).Int("photos", len(refs)).Msg("sheet imported")
	return refs, nil
}

// Flag writes "Yes" (or clears) the Flagged cell of ref's row on the first
// tab. If that write fails it is retried once on DefaultRange.
func (s *SheetsImporter) Flag(ctx context.Context, ref photo.Ref, flagged bool) error {
	if ref.Row < 2 {
		return ErrNoRow
	}
	srv, err := s.service(ctx)
	if err != nil {
		return err
	}

	value := ""
	if flagged {
		value = flagValue
	}
	body := &gsheets.ValueRange{Values: [][]interface{}{{value}}}
	update := func(tab string) error {
		rng := rowRange(tab, flagColumn, flagColumn, ref.Row)
		_, err := srv.Spreadsheets.Values.Update(s.spreadsheetID, rng, body).
			ValueInputOption("RAW").Context(ctx).Do()
		return err
	}

	tab := s.firstTab(ctx, srv)
	err = update(tab)
	if err != nil && tab != DefaultRange {
		log.Warn().Err(err).Str("range", tab).Int("row", ref.Row).Msg("flag update failed, retrying on default range")
		tab = DefaultRange
		err = update(tab)
	}
	if err != nil {
		return fmt.Errorf("flag row %d: %w", ref.Row, err)
	}
	log.Info().Str("file_id", ref.FileID).Int("row", ref.Row).Bool("flagged", flagged).Msg("photo flag updated")
	return nil
}

// Delete removes the photo's file from Drive, then clears its row. The row
// is blanked rather than removed so the other rows keep their numbers;
// ParseRows drops blank rows on the next import.
func (s *SheetsImporter) Delete(ctx context.Context, ref photo.Ref) error {
	if ref.Row < 2 {
		return ErrNoRow
	}
	if ref.FileID == "" {
		return fmt.Errorf("row %d: no drive file id in %q", ref.Row, ref.FileLink)
	}

	dsrv, err := drive.NewService(ctx, s.options(s.driveEndpoint)...)
	if err != nil {
		return fmt.Errorf("drive client: %w", err)
	}
	if err := dsrv.Files.Delete(ref.FileID).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete drive file %s: %w", ref.FileID, err)
	}

	srv, err := s.service(ctx)
	if err != nil {
		return err
	}
	rng := rowRange(s.firstTab(ctx, srv), firstColumn, lastColumn, ref.Row)
	if _, err := srv.Spreadsheets.Values.Clear(s.spreadsheetID, rng, &gsheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	log.Info().Str("file_id", ref.FileID).Int("row", ref.Row).Msg("photo deleted")
	return nil
}

// rowRange is the A1 range from..to on one row of tab.
func rowRange(tab, from, to string, row int) string {
	return fmt.Sprintf("'%s'!%s%d:%s%d", strings.ReplaceAll(tab, "'", "''"), from, row, to, row)
}

// CSVImporter reads a CSV export with the same columns as the sheet.
type CSVImporter struct {
	path string
}

func NewCSVImporter(path string) *CSVImporter {
	return &CSVImporter{path: path}
}

func (c *CSVImporter) Import(ctx context.Context) ([]photo.Ref, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	values, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.path, err)
	}
	refs := photo.ParseRows(values)
	log.Info().Str("path", c.path).Int("photos", len(refs)).Msg("csv imported")
	return refs, nil
}

// FindLatestCSV returns the newest CSV export in dir.
func FindLatestCSV(dir string) (string, error) {
	return system.FindLatest(dir, ".csv")
}
