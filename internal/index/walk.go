package index

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/gazou/internal/config"
	"github.com/hyperjump/gazou/internal/models"
)

// imageExts is the fixed set of raster image extensions the index considers.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// IsImageFile reports whether path has a recognized image extension (case-insensitive).
func IsImageFile(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// candidate is one image file discovered during a walk, together with the
// category and rewrite rule of its owning directory.
type candidate struct {
	path     string
	category string
	rewrite  *labelRewrite
}

// collectImages walks each configured directory recursively and returns every
// image file, first directory wins on duplicate paths. Directories that do not
// exist are skipped. Symlinks and irregular files are ignored.
func collectImages(dirs []config.ImageDir, rewrites []*labelRewrite) ([]candidate, error) {
	seen := make(map[string]bool)
	var out []candidate
	for i, dir := range dirs {
		absDir, err := filepath.Abs(dir.Path)
		if err != nil {
			return nil, err
		}
		if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
			continue
		}
		category := dir.Category
		if category == "" {
			category = models.CategoryUncategorized
		}
		err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || !IsImageFile(path) {
				return nil
			}
			info, statErr := os.Stat(path)
			if statErr != nil || !info.Mode().IsRegular() {
				return nil
			}
			if seen[path] {
				return nil
			}
			seen[path] = true
			out = append(out, candidate{path: path, category: category, rewrite: rewrites[i]})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
