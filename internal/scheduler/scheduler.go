// Package scheduler serializes and prioritizes work on very large source
// images. A single worker goroutine drains a priority queue, so at most one
// full-resolution image is decoded at any time; callers submit, cancel and
// reprioritize without blocking on that worker.
//
// Two request kinds exist. A Preparation ingests a whole image (thumbnail,
// medium preview and every grid tile) and is deduplicated by content hash.
// A TileBatch produces specific tiles of an already ingested image; tiles
// that are already cached are answered immediately.
package scheduler

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/AnyUserName/tilesched/internal/manifest"
	"go.uber.org/zap"
)

// ImageCache is the tile storage the scheduler consults before queueing
// work. LoadMetadata returns nil, nil for an image that was never ingested;
// LoadTile reports false for a tile that is not cached.
type ImageCache interface {
	IsCacheValid(ctx context.Context, path string) (manifest.Validity, error)
	GenerateImageHash(ctx context.Context, path string) (string, error)
	LoadMetadata(ctx context.Context, hash string) (*manifest.Image, error)
	LoadTile(ctx context.Context, hash string, x, y int) ([]byte, bool, error)
}

// tileChecker is implemented by caches that can test for a tile without
// reading it.
type tileChecker interface {
	HasTile(ctx context.Context, hash string, x, y int) bool
}

// ImageGenerator decodes source images and encodes tiles.
type ImageGenerator interface {
	// ProcessImageComplete ingests the image at path, calling onTile after
	// each grid tile.
	ProcessImageComplete(ctx context.Context, path string, onTile func(current, total int)) (manifest.Ingestion, error)
	// DecodeAuto decodes the full-resolution image at path.
	DecodeAuto(ctx context.Context, path string) (image.Image, error)
	// GenerateTile encodes tile (x, y) of img as WebP.
	GenerateTile(ctx context.Context, hash string, img image.Image, x, y int) ([]byte, error)
}

// Metrics receives scheduler measurements. A nil Metrics disables them.
type Metrics interface {
	// ObserveSubmit records how a submission was handled: "queued",
	// "cached" or "deduplicated".
	ObserveSubmit(kind string, outcome string)
	// ObserveFinish records a settled queued request.
	ObserveFinish(kind string, outcome string, d time.Duration)
	// SetQueueDepth is called with the scheduler lock held and must not
	// call back into the Scheduler.
	SetQueueDepth(n int)
	AddTilesGenerated(n int)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithMaxQueue bounds the number of queued requests. Submissions beyond
// the bound fail with ErrQueueFull. Zero means unbounded.
func WithMaxQueue(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxQueue = n
		}
	}
}

// Scheduler owns the request queue and its single processing loop.
//
// Thread-Safety:
//   - all methods are safe for concurrent use
//   - queue, pending set, stats and current request are guarded by mu
//   - collaborators and observers are always called without mu held
type Scheduler struct {
	cache    ImageCache
	gen      ImageGenerator
	log      *zap.Logger
	metrics  Metrics
	maxQueue int

	// ctx is handed to collaborators by the loop; cancelled when Close
	// gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	queue      queue
	pending    pendingSet
	stats      Stats
	current    *request
	processing bool
	closed     bool

	obs observers
}

// New creates an idle scheduler. The processing loop starts on the first
// submission and stops whenever the queue drains.
func New(cache ImageCache, gen ImageGenerator, opts ...Option) (*Scheduler, error) {
	if cache == nil {
		return nil, fmt.Errorf("scheduler: cache cannot be nil")
	}
	if gen == nil {
		return nil, fmt.Errorf("scheduler: generator cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cache:   cache,
		gen:     gen,
		log:     zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
		pending: newPendingSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SubmitPreparation asks for the image at path to be fully ingested.
//
// A fully cached image resolves at once with Skipped set. If a Preparation
// for the same content is already queued or running, the returned handle
// resolves with AlreadyProcessing set once that one completes, and no
// second request is queued. Errors from the cache lookup are returned
// directly; generation errors reject the handle.
func (s *Scheduler) SubmitPreparation(ctx context.Context, path, name string, priority Priority) (*Handle[PrepareResult], error) {
	if !priority.Valid() {
		return nil, fmt.Errorf("submit preparation: invalid %s", priority)
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	v, err := s.cache.IsCacheValid(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("check cache for %s: %w", path, err)
	}
	if v.Exists && v.Metadata != nil {
		complete, err := s.allTilesCached(ctx, v.Hash, v.Metadata)
		if err != nil {
			return nil, fmt.Errorf("check tiles for %s: %w", path, err)
		}
		if complete {
			s.observeSubmit(KindPreparation, "cached")
			s.log.Debug("preparation skipped, image fully cached",
				zap.String("name", name), zap.String("hash", v.Hash))
			return resolvedHandle(PrepareResult{
				Hash:      v.Hash,
				Metadata:  v.Metadata,
				FromCache: true,
				Skipped:   true,
			}), nil
		}
	}

	hash, err := s.cache.GenerateImageHash(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if wait, ok := s.pending.wait(hash); ok {
		s.mu.Unlock()
		s.observeSubmit(KindPreparation, "deduplicated")
		s.log.Debug("preparation already pending",
			zap.String("name", name), zap.String("hash", hash))

		h := newHandle[PrepareResult]()
		go func() {
			<-wait
			h.resolve(PrepareResult{Hash: hash, FromCache: true, AlreadyProcessing: true})
		}()
		return h, nil
	}
	if s.maxQueue > 0 && s.queue.len() >= s.maxQueue {
		s.mu.Unlock()
		return nil, ErrQueueFull
	}

	r := newPreparation(path, name, hash, priority)
	s.pending.add(hash, r)
	s.queue.push(r)
	depth := s.queue.len()
	s.setQueueDepthLocked()
	s.startLocked()
	s.mu.Unlock()

	s.observeSubmit(KindPreparation, "queued")
	s.log.Debug("preparation queued",
		zap.String("request_id", r.id),
		zap.String("name", name),
		zap.String("hash", hash),
		zap.Stringer("priority", priority),
		zap.Int("queue_length", depth))
	return r.prep, nil
}

// SubmitTileBatch asks for tiles of an ingested image. Cached tiles are
// read immediately; only the rest is queued. The handle resolves to the
// cached tiles followed by the generated ones, each group in input order.
func (s *Scheduler) SubmitTileBatch(ctx context.Context, hash string, coords []manifest.Coord, priority Priority) (*Handle[[]TileResult], error) {
	if !priority.Valid() {
		return nil, fmt.Errorf("submit tile batch: invalid %s", priority)
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	cached := make([]TileResult, 0, len(coords))
	var uncached []manifest.Coord
	for _, c := range coords {
		data, ok, err := s.cache.LoadTile(ctx, hash, c.X, c.Y)
		if err != nil {
			return nil, fmt.Errorf("load tile %d,%d of %s: %w", c.X, c.Y, hash, err)
		}
		if ok {
			cached = append(cached, NewTileResult(c.X, c.Y, data))
			continue
		}
		uncached = append(uncached, c)
	}
	if len(uncached) == 0 {
		s.observeSubmit(KindTileBatch, "cached")
		return resolvedHandle(cached), nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.maxQueue > 0 && s.queue.len() >= s.maxQueue {
		s.mu.Unlock()
		return nil, ErrQueueFull
	}
	r := newTileBatch(hash, uncached, cached, priority)
	s.queue.push(r)
	s.setQueueDepthLocked()
	s.startLocked()
	s.mu.Unlock()

	s.observeSubmit(KindTileBatch, "queued")
	s.log.Debug("tile batch queued",
		zap.String("request_id", r.id),
		zap.String("hash", hash),
		zap.Int("cached", len(cached)),
		zap.Int("uncached", len(uncached)),
		zap.Stringer("priority", priority))
	return r.tiles, nil
}

// CancelForImage removes every queued request for hash and rejects it
// with ErrCancelled. A running TileBatch for hash stops before its next
// tile; a running Preparation is never interrupted. It returns the number
// of requests removed from the queue.
func (s *Scheduler) CancelForImage(hash string) int {
	s.mu.Lock()
	removed := s.queue.removeIf(func(r *request) bool {
		if r.hash != hash {
			return false
		}
		r.cancelled.Store(true)
		return true
	})
	for _, r := range removed {
		if r.kind == KindPreparation {
			s.pending.release(r.hash, r)
		}
	}
	inFlight := false
	if cur := s.current; cur != nil && cur.hash == hash && cur.kind == KindTileBatch {
		cur.cancelled.Store(true)
		inFlight = true
	}
	s.setQueueDepthLocked()
	s.mu.Unlock()

	s.rejectCancelled(removed, ErrCancelled)
	if len(removed) > 0 || inFlight {
		s.log.Info("cancelled requests for image",
			zap.String("hash", hash),
			zap.Int("removed", len(removed)),
			zap.Bool("in_flight", inFlight))
	}
	return len(removed)
}

// CancelAll removes and rejects every queued request except Preparations,
// which belong to project loading and must not be interrupted by
// unrelated navigation. It returns the number of requests removed.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	removed := s.queue.removeIf(func(r *request) bool {
		if r.kind == KindPreparation {
			return false
		}
		r.cancelled.Store(true)
		return true
	})
	s.setQueueDepthLocked()
	s.mu.Unlock()

	s.rejectCancelled(removed, ErrCancelled)
	if len(removed) > 0 {
		s.log.Info("cancelled queued requests", zap.Int("removed", len(removed)))
	}
	return len(removed)
}

// BoostPriority moves every queued request for hash to PriorityCurrent,
// ahead of other Current work. Requests already more urgent than Current,
// such as Preparations, keep their priority. Used when the user switches
// to an image whose background work is still queued. It returns the
// number of requests moved.
func (s *Scheduler) BoostPriority(hash string) int {
	s.mu.Lock()
	n := s.queue.boost(hash, PriorityCurrent)
	s.mu.Unlock()

	if n > 0 {
		s.log.Debug("boosted requests", zap.String("hash", hash), zap.Int("count", n))
	}
	return n
}

// Close stops accepting submissions, rejects everything still queued and
// waits for the in-flight request to finish. If ctx ends first, the
// in-flight request's context is cancelled and Close returns ctx.Err()
// without waiting further; the worker settles that request and exits on
// its own.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	removed := s.queue.removeIf(func(r *request) bool {
		r.cancelled.Store(true)
		return true
	})
	for _, r := range removed {
		if r.kind == KindPreparation {
			s.pending.release(r.hash, r)
		}
	}
	s.setQueueDepthLocked()
	s.mu.Unlock()

	s.rejectCancelled(removed, fmt.Errorf("%w: %w", ErrCancelled, ErrClosed))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		s.log.Warn("close deadline expired with a request in flight", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// allTilesCached reports whether every grid tile of m is cached.
func (s *Scheduler) allTilesCached(ctx context.Context, hash string, m *manifest.Image) (bool, error) {
	checker, fast := s.cache.(tileChecker)
	for _, c := range m.Grid.Coords() {
		if fast {
			if !checker.HasTile(ctx, hash, c.X, c.Y) {
				return false, nil
			}
			continue
		}
		_, ok, err := s.cache.LoadTile(ctx, hash, c.X, c.Y)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (s *Scheduler) rejectCancelled(rs []*request, err error) {
	for _, r := range rs {
		r.reject(err)
		s.observeFinish(r, err)
	}
}

func (s *Scheduler) observeSubmit(kind Kind, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveSubmit(kind.String(), outcome)
	}
}

func (s *Scheduler) observeFinish(r *request, err error) {
	if s.metrics != nil {
		s.metrics.ObserveFinish(r.kind.String(), Classify(err).String(), time.Since(r.queuedAt))
	}
}

// setQueueDepthLocked publishes the queue length. Must be called with mu
// held so concurrent updates land in queue order.
func (s *Scheduler) setQueueDepthLocked() {
	if s.metrics != nil {
		s.metrics.SetQueueDepth(s.queue.len())
	}
}
