package utils

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMIMEFromExtension(t *testing.T) {
	tests := map[string]string{
		"crest.PNG":   "image/png",
		"a/b/c.jpeg":  "image/jpeg",
		"cover.jpg":   "image/jpeg",
		"x.webp":      "image/webp",
		"anim.gif":    "",
		"no-extension": "",
	}
	for in, want := range tests {
		if got := MIMEFromExtension(in); got != want {
			t.Errorf("MIMEFromExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOutputFilename(t *testing.T) {
	if got := OutputFilename("in/crest.png", "out", "logo"); got != filepath.Join("out", "crest_logo.webp") {
		t.Errorf("unexpected output name %q", got)
	}
	if got := OutputFilename("in/photo.jpg", "", "cover"); got != filepath.Join("in", "photo_cover.webp") {
		t.Errorf("unexpected output name %q", got)
	}
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.txt", "sub/c.jpg"} {
		path := filepath.Join(dir, name)
		if err := EnsureDir(filepath.Dir(path)); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := ExpandInputs([]string{dir, "single.webp"})
	if err != nil {
		t.Fatalf("ExpandInputs failed: %v", err)
	}
	sort.Strings(got)

	want := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "sub", "c.jpg"), "single.webp"}
	sort.Strings(want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("inputs mismatch (-want +got):\n%s", diff)
	}

	if !FileExists(filepath.Join(dir, "a.png")) || FileExists(dir) || !DirExists(dir) {
		t.Error("FileExists/DirExists disagree with the filesystem")
	}
}

func TestFormatFileSize(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		300 * 1024:      "300.0 KB",
		15 * 1024 * 1024: "15.0 MB",
	}
	for in, want := range tests {
		if got := FormatFileSize(in); got != want {
			t.Errorf("FormatFileSize(%d) = %q, want %q", in, got, want)
		}
	}
}
