package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/gazou/internal/config"
)

func TestIsImageFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/imgs/cat.png", true},
		{"/imgs/cat.PNG", true},
		{"/imgs/cat.jpg", true},
		{"/imgs/cat.jpeg", true},
		{"/imgs/cat.gif", true},
		{"/imgs/cat.webp", false},
		{"/imgs/notes.txt", false},
		{"/imgs/noext", false},
	}
	for _, tt := range tests {
		if got := IsImageFile(tt.path); got != tt.want {
			t.Errorf("IsImageFile(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestCollectImages_firstDirectoryWinsOnDuplicates(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cat.png"), []byte("png"), 0600); err != nil {
		t.Fatal(err)
	}
	dirs := []config.ImageDir{
		{Path: dir, Category: "first"},
		{Path: dir, Category: "second"},
	}
	files, err := collectImages(dirs, make([]*labelRewrite, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("files = %d, want 1 (deduplicated)", len(files))
	}
	if files[0].category != "first" {
		t.Errorf("category = %s, first directory should win", files[0].category)
	}
}

func TestCollectImages_missingDirectorySkipped(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cat.png"), []byte("png"), 0600); err != nil {
		t.Fatal(err)
	}
	dirs := []config.ImageDir{
		{Path: filepath.Join(dir, "absent")},
		{Path: dir},
	}
	files, err := collectImages(dirs, make([]*labelRewrite, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("files = %d, want 1", len(files))
	}
}

func TestCollectImages_recursesSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested", "deeper")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "cat.png"), []byte("png"), 0600); err != nil {
		t.Fatal(err)
	}
	files, err := collectImages([]config.ImageDir{{Path: dir}}, make([]*labelRewrite, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("files = %d, want 1", len(files))
	}
}
