package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/AnyUserName/tilesched/internal/manifest"
)

const testTimeout = 5 * time.Second

type tileKey struct {
	hash string
	x, y int
}

// fakeCache is an in-memory ImageCache. Paths hash to "h:" + path.
type fakeCache struct {
	mu    sync.Mutex
	meta  map[string]*manifest.Image
	tiles map[tileKey][]byte

	hashCalls int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		meta:  make(map[string]*manifest.Image),
		tiles: make(map[tileKey][]byte),
	}
}

func hashOf(path string) string { return "h:" + path }

func (c *fakeCache) IsCacheValid(ctx context.Context, path string) (manifest.Validity, error) {
	h, err := c.GenerateImageHash(ctx, path)
	if err != nil {
		return manifest.Validity{}, err
	}
	m, _ := c.LoadMetadata(ctx, h)
	return manifest.Validity{Exists: m != nil, Hash: h, Metadata: m}, nil
}

func (c *fakeCache) GenerateImageHash(_ context.Context, path string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashCalls++
	if path == "" {
		return "", errors.New("empty path")
	}
	return hashOf(path), nil
}

func (c *fakeCache) LoadMetadata(_ context.Context, hash string) (*manifest.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta[hash], nil
}

func (c *fakeCache) LoadTile(_ context.Context, hash string, x, y int) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.tiles[tileKey{hash, x, y}]
	return data, ok, nil
}

// addImage registers metadata for the image at path with a cols x rows grid.
func (c *fakeCache) addImage(path string, cols, rows int) string {
	h := hashOf(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta[h] = &manifest.Image{
		Hash:       h,
		SourcePath: path,
		Name:       path,
		Grid:       manifest.Grid{TileSize: 256, Cols: cols, Rows: rows, Format: "webp"},
	}
	return h
}

func (c *fakeCache) putTile(hash string, x, y int, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiles[tileKey{hash, x, y}] = data
}

// fakeGenerator records every call. Calls for a blocked path wait until
// the path is released.
type fakeGenerator struct {
	mu         sync.Mutex
	calls      []string
	blocks     map[string]chan struct{}
	processErr map[string]error
	onTile     func(n int) // called after the nth GenerateTile call (1-based)
	tileCalls  int

	started chan string
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		blocks:     make(map[string]chan struct{}),
		processErr: make(map[string]error),
		started:    make(chan string, 256),
	}
}

func (g *fakeGenerator) block(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocks[path] = make(chan struct{})
}

func (g *fakeGenerator) release(path string) {
	g.mu.Lock()
	ch := g.blocks[path]
	delete(g.blocks, path)
	g.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (g *fakeGenerator) enter(call, path string) {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	ch := g.blocks[path]
	g.mu.Unlock()

	g.started <- call
	if ch != nil {
		<-ch
	}
}

func (g *fakeGenerator) ProcessImageComplete(_ context.Context, path string, onTile func(current, total int)) (manifest.Ingestion, error) {
	g.enter("process:"+path, path)

	g.mu.Lock()
	err := g.processErr[path]
	g.mu.Unlock()
	if err != nil {
		return manifest.Ingestion{}, err
	}

	onTile(1, 2)
	onTile(2, 2)
	return manifest.Ingestion{
		Metadata:       &manifest.Image{Hash: hashOf(path), SourcePath: path},
		TilesGenerated: 2,
	}, nil
}

func (g *fakeGenerator) DecodeAuto(_ context.Context, path string) (image.Image, error) {
	g.enter("decode:"+path, path)
	return image.NewGray(image.Rect(0, 0, 1, 1)), nil
}

func (g *fakeGenerator) GenerateTile(_ context.Context, hash string, _ image.Image, x, y int) ([]byte, error) {
	g.mu.Lock()
	g.calls = append(g.calls, fmt.Sprintf("tile:%s:%d,%d", hash, x, y))
	g.tileCalls++
	n := g.tileCalls
	hook := g.onTile
	g.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return []byte(fmt.Sprintf("gen-%d-%d", x, y)), nil
}

func (g *fakeGenerator) callLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	copy(out, g.calls)
	return out
}

// expectStart waits until the generator has entered call.
func (g *fakeGenerator) expectStart(t *testing.T, call string) {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case got := <-g.started:
			if got == call {
				return
			}
		case <-deadline:
			t.Fatalf("generator never started %q; calls: %v", call, g.callLog())
		}
	}
}

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *fakeCache, *fakeGenerator) {
	t.Helper()
	c := newFakeCache()
	g := newFakeGenerator()
	s, err := New(c, g, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		g.mu.Lock()
		var paths []string
		for p := range g.blocks {
			paths = append(paths, p)
		}
		g.mu.Unlock()
		for _, p := range paths {
			g.release(p)
		}
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		s.Close(ctx)
	})
	return s, c, g
}

func wait[T any](t *testing.T, h *Handle[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	v, err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("handle did not settle in time")
	}
	return v, err
}

func mustSubmitPrep(t *testing.T, s *Scheduler, path string, p Priority) *Handle[PrepareResult] {
	t.Helper()
	h, err := s.SubmitPreparation(context.Background(), path, path, p)
	if err != nil {
		t.Fatalf("SubmitPreparation(%s): %v", path, err)
	}
	return h
}

// waitIdle blocks until the processing loop has stopped.
func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		st := s.Status()
		if !st.Processing && st.QueueLength == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("scheduler did not become idle")
}
