// Package tilecache stores ingested images on disk, keyed by content hash:
//
//	<root>/<hash>/metadata.json
//	<root>/<hash>/thumbnail.<ext>
//	<root>/<hash>/medium.<ext>
//	<root>/<hash>/tiles/<x>_<y>.webp
//
// metadata.json is written last by the generator, so an image counts as
// cached only once every other artifact is on disk.
package tilecache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/AnyUserName/tilesched/internal/hasher"
	"github.com/AnyUserName/tilesched/internal/manifest"
	"go.uber.org/zap"
)

const metadataFile = "metadata.json"

// Cache is a directory-backed image cache. It is safe for concurrent use.
type Cache struct {
	root string
	log  *zap.Logger

	mu     sync.Mutex
	hashes map[string]hashEntry // source path -> memoized hash
}

// hashEntry remembers a computed hash together with the file stat it was
// computed from, so an edited source image is rehashed.
type hashEntry struct {
	size    int64
	modTime time.Time
	hash    string
}

// New opens (creating if needed) a cache rooted at dir.
func New(dir string, log *zap.Logger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{
		root:   dir,
		log:    log,
		hashes: make(map[string]hashEntry),
	}, nil
}

// Root returns the cache directory.
func (c *Cache) Root() string { return c.root }

// Dir returns the directory holding artifacts for hash.
func (c *Cache) Dir(hash string) string {
	return filepath.Join(c.root, hash)
}

// TilePath returns the on-disk location of tile (x, y).
func (c *Cache) TilePath(hash string, x, y int) string {
	return filepath.Join(c.root, hash, "tiles", fmt.Sprintf("%d_%d.webp", x, y))
}

// GenerateImageHash returns the content identity of the image at path.
// Results are memoized per (path, size, mtime) because hashing a
// multi-gigabyte slide is not free.
func (c *Cache) GenerateImageHash(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	e, ok := c.hashes[path]
	c.mu.Unlock()
	if ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.hash, nil
	}

	sum, err := hasher.FileHash(path)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.hashes[path] = hashEntry{size: info.Size(), modTime: info.ModTime(), hash: sum}
	c.mu.Unlock()
	return sum, nil
}

// IsCacheValid reports whether metadata exists for the image at path.
func (c *Cache) IsCacheValid(ctx context.Context, path string) (manifest.Validity, error) {
	sum, err := c.GenerateImageHash(ctx, path)
	if err != nil {
		return manifest.Validity{}, err
	}
	m, err := c.LoadMetadata(ctx, sum)
	if err != nil {
		return manifest.Validity{}, err
	}
	return manifest.Validity{Exists: m != nil, Hash: sum, Metadata: m}, nil
}

// LoadMetadata returns the metadata for hash, or nil if the image has not
// been ingested. A corrupt record is treated as absent so the image gets
// re-ingested.
func (c *Cache) LoadMetadata(ctx context.Context, hash string) (*manifest.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := manifest.ReadJSON(filepath.Join(c.Dir(hash), metadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		c.log.Warn("discarding unreadable metadata", zap.String("hash", hash), zap.Error(err))
		return nil, nil
	}
	return m, nil
}

// SaveMetadata writes the completion marker for m.Hash.
func (c *Cache) SaveMetadata(m *manifest.Image) error {
	if err := os.MkdirAll(c.Dir(m.Hash), 0o755); err != nil {
		return err
	}
	return manifest.WriteJSON(m, filepath.Join(c.Dir(m.Hash), metadataFile))
}

// LoadTile returns the encoded tile, reporting false when it is not cached.
func (c *Cache) LoadTile(ctx context.Context, hash string, x, y int) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(c.TilePath(hash, x, y))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// HasTile reports whether tile (x, y) is cached without reading it.
func (c *Cache) HasTile(_ context.Context, hash string, x, y int) bool {
	info, err := os.Stat(c.TilePath(hash, x, y))
	return err == nil && info.Size() > 0
}

// SaveTile stores an encoded tile.
func (c *Cache) SaveTile(hash string, x, y int, data []byte) error {
	path := c.TilePath(hash, x, y)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// SavePreview stores a whole-image rendition (thumbnail, medium) and
// returns its path relative to the image directory.
func (c *Cache) SavePreview(hash, name, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(c.Dir(hash), 0o755); err != nil {
		return "", err
	}
	rel := name + "." + ext
	if err := writeAtomic(filepath.Join(c.Dir(hash), rel), data); err != nil {
		return "", err
	}
	return rel, nil
}

// List returns the metadata of every ingested image, sorted by name.
func (c *Cache) List(ctx context.Context) ([]*manifest.Image, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, err
	}
	var out []*manifest.Image
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := c.LoadMetadata(ctx, e.Name())
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Hash < out[j].Hash
	})
	return out, nil
}

// MissingTiles lists grid coordinates of m that have no tile on disk.
func (c *Cache) MissingTiles(ctx context.Context, m *manifest.Image) []manifest.Coord {
	var missing []manifest.Coord
	for _, coord := range m.Grid.Coords() {
		if !c.HasTile(ctx, m.Hash, coord.X, coord.Y) {
			missing = append(missing, coord)
		}
	}
	return missing
}

// Size returns the total bytes stored for hash.
func (c *Cache) Size(hash string) (int64, error) {
	var total int64
	err := filepath.WalkDir(c.Dir(hash), func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
