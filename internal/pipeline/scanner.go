package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AnyUserName/tilesched/internal/scheduler"
)

// Source is a source image discovered in a project directory.
type Source struct {
	// AbsPath is the path to the file on disk.
	AbsPath string
	// RelPath is the path relative to the project directory.
	RelPath string
	// Key is RelPath without extension, with forward slashes. It is the
	// display name shown in progress output.
	Key string
	// Format is the normalized source format (png, jpeg, tiff, ...).
	Format string
	Size   int64
}

var imageExtensions = map[string]string{
	".png":  "png",
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".webp": "webp",
	".gif":  "gif",
	".bmp":  "bmp",
	".tiff": "tiff",
	".tif":  "tiff",
}

// ScanImages walks dir and returns every image it finds, sorted by
// RelPath. Hidden directories, including the default cache directory,
// are skipped.
func ScanImages(dir string) ([]Source, error) {
	var sources []Source

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		format, ok := imageExtensions[ext]
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		sources = append(sources, Source{
			AbsPath: path,
			RelPath: rel,
			Key:     rel[:len(rel)-len(ext)],
			Format:  format,
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].RelPath < sources[j].RelPath })
	return sources, nil
}

// ImageRefs converts scanned sources into scheduler input.
func ImageRefs(sources []Source) []scheduler.ImageRef {
	refs := make([]scheduler.ImageRef, len(sources))
	for i, s := range sources {
		refs[i] = scheduler.ImageRef{Path: s.AbsPath, Name: s.Key}
	}
	return refs
}
