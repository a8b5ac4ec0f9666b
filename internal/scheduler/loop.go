package scheduler

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// startLocked starts the processing loop unless it is already running or
// there is nothing to do. Must be called with mu held.
func (s *Scheduler) startLocked() {
	if s.processing || s.queue.len() == 0 {
		return
	}
	s.processing = true
	s.wg.Add(1)
	go s.run()
}

// run drains the queue one request at a time, then returns to idle.
func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		r := s.queue.pop()
		if r == nil {
			s.processing = false
			s.current = nil
			s.setQueueDepthLocked()
			s.mu.Unlock()

			s.log.Debug("queue drained")
			s.emit(Event{Kind: EventQueueEmpty})
			return
		}
		if r.cancelled.Load() {
			// Settled when it was cancelled.
			s.mu.Unlock()
			continue
		}
		s.current = r
		s.setQueueDepthLocked()
		s.mu.Unlock()

		s.dispatch(r)

		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}
}

// dispatch runs one request. Whatever happens, the request's handle is
// settled and the loop moves on.
func (s *Scheduler) dispatch(r *request) {
	start := time.Now()
	log := s.log.With(
		zap.String("request_id", r.id),
		zap.Stringer("kind", r.kind),
		zap.String("hash", r.hash),
	)
	log.Debug("dispatching", zap.Duration("queued_for", start.Sub(r.queuedAt)))

	err := s.handle(r)

	if r.kind == KindPreparation {
		// No-op unless the handler bailed out before releasing.
		s.mu.Lock()
		s.pending.release(r.hash, r)
		s.mu.Unlock()
	}

	if err != nil {
		r.reject(err)
		switch Classify(err) {
		case ClassCancelled:
			log.Info("request cancelled", zap.Error(err))
		default:
			log.Error("request failed", zap.String("name", r.displayName()), zap.Error(err))
		}
	} else {
		log.Debug("request completed", zap.Duration("elapsed", time.Since(start)))
	}
	s.observeFinish(r, err)
}

// handle routes r to its handler, turning a panic into an error so one bad
// image cannot stop the loop.
func (s *Scheduler) handle(r *request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while processing %s: %v", r.kind, p)
		}
	}()

	switch r.kind {
	case KindPreparation:
		return s.handlePreparation(r)
	case KindTileBatch:
		return s.handleTileBatch(r)
	default:
		return fmt.Errorf("unknown request kind %d", r.kind)
	}
}

func (s *Scheduler) handlePreparation(r *request) error {
	s.mu.Lock()
	s.stats.CurrentImageName = r.name
	stats := s.stats
	s.mu.Unlock()
	s.emit(Event{Kind: EventProgress, Stats: stats})

	onTile := func(current, total int) {
		s.emit(Event{Kind: EventTileProgress, Tile: &TileProgress{
			Hash:    r.hash,
			Name:    r.name,
			Current: current,
			Total:   total,
		}})
	}

	ing, err := s.gen.ProcessImageComplete(s.ctx, r.path, onTile)
	if err != nil {
		s.mu.Lock()
		s.pending.release(r.hash, r)
		s.mu.Unlock()
		return &GeneratorError{Op: "process", Hash: r.hash, Err: err}
	}

	s.mu.Lock()
	s.pending.release(r.hash, r)
	s.stats.CompletedImages++
	stats = s.stats
	s.mu.Unlock()
	s.emit(Event{Kind: EventProgress, Stats: stats})

	if ing.Hash == "" {
		ing.Hash = r.hash
	}
	s.addTilesGenerated(ing.TilesGenerated)
	r.prep.resolve(PrepareResult{
		Hash:           ing.Hash,
		Metadata:       ing.Metadata,
		FromCache:      ing.FromCache,
		TilesGenerated: ing.TilesGenerated,
	})
	return nil
}

func (s *Scheduler) handleTileBatch(r *request) error {
	m, err := s.cache.LoadMetadata(s.ctx, r.hash)
	if err != nil {
		return fmt.Errorf("load metadata for %s: %w", r.hash, err)
	}
	if m == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, r.hash)
	}
	if r.cancelled.Load() {
		return fmt.Errorf("%w: tile batch for %s aborted before decode", ErrCancelled, r.hash)
	}

	img, err := s.gen.DecodeAuto(s.ctx, m.SourcePath)
	if err != nil {
		return &GeneratorError{Op: "decode", Hash: r.hash, Err: err}
	}

	generated := make([]TileResult, 0, len(r.coords))
	for i, c := range r.coords {
		if r.cancelled.Load() {
			s.addTilesGenerated(i)
			return fmt.Errorf("%w: tile batch for %s aborted after %d of %d tiles",
				ErrCancelled, r.hash, i, len(r.coords))
		}
		data, err := s.gen.GenerateTile(s.ctx, r.hash, img, c.X, c.Y)
		if err != nil {
			s.addTilesGenerated(i)
			return &GeneratorError{Op: "tile", Hash: r.hash, Err: fmt.Errorf("tile %d,%d: %w", c.X, c.Y, err)}
		}
		generated = append(generated, NewTileResult(c.X, c.Y, data))
	}
	s.addTilesGenerated(len(generated))

	out := make([]TileResult, 0, len(r.cached)+len(generated))
	out = append(out, r.cached...)
	out = append(out, generated...)
	r.tiles.resolve(out)
	return nil
}

func (s *Scheduler) addTilesGenerated(n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.AddTilesGenerated(n)
	}
}
