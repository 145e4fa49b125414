package photo

import "strings"

// Spreadsheet columns, A through H.
const (
	colTimestamp = iota
	colLocation
	colUploader
	colUploadDate
	colUploadTime
	colFileLink
	colFlagged
	colFavorite
)

// ParseRows turns sheet values into photo records. The first row is the
// header and is skipped. Rows whose link has no recognizable file id are
// kept with an empty FileID; the assembler reports them as failed items.
// Completely empty rows (cleared after a delete) are dropped.
func ParseRows(values [][]string) []Ref {
	if len(values) <= 1 {
		return nil
	}

	refs := make([]Ref, 0, len(values)-1)
	for i, row := range values[1:] {
		if isBlank(row) {
			continue
		}
		r := Ref{
			Timestamp:  cell(row, colTimestamp),
			Location:   cell(row, colLocation),
			Uploader:   cell(row, colUploader),
			UploadDate: cell(row, colUploadDate),
			UploadTime: cell(row, colUploadTime),
			FileLink:   cell(row, colFileLink),
			Flagged:    truthy(cell(row, colFlagged)),
			Favorite:   truthy(cell(row, colFavorite)),
			Row:        i + 2,
		}
		r.FileID, _ = ExtractFileID(r.FileLink)
		refs = append(refs, r)
	}
	return refs
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func truthy(s string) bool {
	switch strings.ToLower(s) {
	case "", "0", "false", "no", "n":
		return false
	}
	return true
}
