// Package photo holds the typed photo records imported from the gallery
// spreadsheet and the ordered selection used to build a timelapse.
package photo

import (
	"regexp"
	"strings"
	"time"
)

// Ref identifies one source image in the file store together with the
// display metadata read from its spreadsheet row.
type Ref struct {
	FileID     string
	FileLink   string
	Timestamp  string
	Location   string
	Uploader   string
	UploadDate string
	UploadTime string
	Flagged    bool
	Favorite   bool
	Row        int
}

// Key is the identity used for selection: the form timestamp, or the file
// id when the row has none.
func (r Ref) Key() string {
	if r.Timestamp != "" {
		return r.Timestamp
	}
	return r.FileID
}

// Caption joins the non-empty display fields.
func (r Ref) Caption() string {
	parts := make([]string, 0, 4)
	for _, s := range []string{r.UploadDate, r.UploadTime, r.Location, r.Uploader} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " · ")
}

var (
	filePathPattern  = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	fileParamPattern = regexp.MustCompile(`id=([a-zA-Z0-9_-]+)`)
)

// ExtractFileID pulls a Drive file id out of a share link. Both the
// /file/d/<id>/view form and the ?id=<id> form are accepted.
func ExtractFileID(url string) (string, bool) {
	if m := filePathPattern.FindStringSubmatch(url); m != nil {
		return m[1], true
	}
	if m := fileParamPattern.FindStringSubmatch(url); m != nil {
		return m[1], true
	}
	return "", false
}

// Layouts accepted for the upload date and time columns.
var (
	dateLayouts = []string{"2006/01/02", "2006-01-02", "1/2/2006", "01/02/2006"}
	timeLayouts = []string{"3:04:05 PM", "15:04:05", "3:04 PM", "15:04"}
	tsLayouts   = []string{time.RFC3339, "1/2/2006 15:04:05", "2006-01-02 15:04:05", "2006/01/02 15:04:05"}
)

// UploadDay parses UploadDate.
func (r Ref) UploadDay() (time.Time, bool) {
	return parseAny(dateLayouts, r.UploadDate)
}

// MinuteOfDay parses UploadTime into minutes since midnight.
func (r Ref) MinuteOfDay() (int, bool) {
	t, ok := parseAny(timeLayouts, r.UploadTime)
	if !ok {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// Time parses the form timestamp.
func (r Ref) Time() (time.Time, bool) {
	return parseAny(tsLayouts, r.Timestamp)
}

func parseAny(layouts []string, value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
