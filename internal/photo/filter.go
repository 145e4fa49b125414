package photo

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Filter narrows the imported photos. Zero values disable a criterion.
// TimeFrom and TimeTo are minutes since midnight; TimeTo of 0 means end of day.
type Filter struct {
	Location      string
	From, To      time.Time
	TimeFrom      int
	TimeTo        int
	FlaggedOnly   bool
	FavoritesOnly bool
}

func (f Filter) hasDateRange() bool  { return !f.From.IsZero() || !f.To.IsZero() }
func (f Filter) hasTimeWindow() bool { return f.TimeFrom > 0 || f.TimeTo > 0 }

// Match reports whether r passes every active criterion. A photo whose
// upload date or time cannot be parsed fails the matching criterion.
func (f Filter) Match(r Ref) bool {
	if f.Location != "" && r.Location != f.Location {
		return false
	}
	if f.FlaggedOnly && !r.Flagged {
		return false
	}
	if f.FavoritesOnly && !r.Favorite {
		return false
	}
	if f.hasDateRange() {
		day, ok := r.UploadDay()
		if !ok {
			return false
		}
		if !f.From.IsZero() && day.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && day.After(f.To) {
			return false
		}
	}
	if f.hasTimeWindow() {
		minute, ok := r.MinuteOfDay()
		if !ok {
			return false
		}
		to := f.TimeTo
		if to == 0 {
			to = 24*60 - 1
		}
		if minute < f.TimeFrom || minute > to {
			return false
		}
	}
	return true
}

// Apply returns the photos matching f, in input order.
func (f Filter) Apply(refs []Ref) []Ref {
	out := make([]Ref, 0, len(refs))
	for _, r := range refs {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Sort options offered by the gallery.
const (
	SortTimeAsc      = "time-asc"
	SortTimeDesc     = "time-desc"
	SortLocationAsc  = "location-asc"
	SortLocationDesc = "location-desc"
	SortUploaderAsc  = "uploader-asc"
	SortUploaderDesc = "uploader-desc"
)

// Sort returns a sorted copy of refs. Unknown or empty options keep the
// input order. The sort is stable.
func Sort(refs []Ref, option string) []Ref {
	out := make([]Ref, len(refs))
	copy(out, refs)

	var less func(a, b Ref) bool
	switch option {
	case SortTimeAsc:
		less = func(a, b Ref) bool { return timeOf(a).Before(timeOf(b)) }
	case SortTimeDesc:
		less = func(a, b Ref) bool { return timeOf(b).Before(timeOf(a)) }
	case SortLocationAsc:
		less = func(a, b Ref) bool { return a.Location < b.Location }
	case SortLocationDesc:
		less = func(a, b Ref) bool { return b.Location < a.Location }
	case SortUploaderAsc:
		less = func(a, b Ref) bool { return a.Uploader < b.Uploader }
	case SortUploaderDesc:
		less = func(a, b Ref) bool { return b.Uploader < a.Uploader }
	default:
		return out
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func timeOf(r Ref) time.Time {
	t, _ := r.Time()
	return t
}

// DefaultPageSize matches the gallery grid.
const DefaultPageSize = 10

// Paginate returns the 1-based page of refs and whether more pages follow.
func Paginate(refs []Ref, page, size int) ([]Ref, bool) {
	if size <= 0 {
		size = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(refs) {
		return nil, false
	}
	end := start + size
	if end > len(refs) {
		end = len(refs)
	}
	return refs[start:end], end < len(refs)
}

// Locations lists the distinct locations in first-seen order.
func Locations(refs []Ref) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range refs {
		if r.Location == "" || seen[r.Location] {
			continue
		}
		seen[r.Location] = true
		out = append(out, r.Location)
	}
	return out
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}
