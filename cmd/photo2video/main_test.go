package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ivlev/photo2video/internal/photo"
)

func TestBuildSelection(t *testing.T) {
	refs := []photo.Ref{{FileID: "a"}, {FileID: "b"}, {FileID: "c"}}

	sel, err := buildSelection(refs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Len() != 3 {
		t.Errorf("default selection has %d photos, want 3", sel.Len())
	}

	sel, err = buildSelection(refs, []string{"c", "a"})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range sel.Snapshot() {
		got = append(got, r.FileID)
	}
	if diff := cmp.Diff([]string{"c", "a"}, got); diff != "" {
		t.Errorf("selection order (-want +got):\n%s", diff)
	}

	if _, err := buildSelection(refs, []string{"zzz"}); err == nil {
		t.Error("unknown id accepted")
	}
}

func TestParseFilterFlags(t *testing.T) {
	defer func() { fromFlag, timeFromFlag, timeToFlag = "", "", "" }()

	fromFlag, timeFromFlag, timeToFlag = "2024-05-01", "08:30", "17:00"
	f, err := parseFilterFlags()
	if err != nil {
		t.Fatal(err)
	}
	if f.From.Day() != 1 || f.TimeFrom != 8*60+30 || f.TimeTo != 17*60 {
		t.Errorf("filter = %+v", f)
	}

	timeToFlag = "5pm"
	if _, err := parseFilterFlags(); err == nil {
		t.Error("bad --time-to accepted")
	}
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.jpg", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	refs, err := listDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("listDir = %+v, want the two images", refs)
	}
}
