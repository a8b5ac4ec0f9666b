package scheduler

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ImageRef names one source image of a project.
type ImageRef struct {
	Path string
	Name string
}

// PrepareSummary tallies a PrepareProject run. Failed images count as
// neither prepared nor cached.
type PrepareSummary struct {
	Total    int
	Prepared int
	Cached   int
	Failed   int
}

// PrepareProject ingests every image of a project at PriorityPreparation.
// Submissions happen in input order; the handles are then awaited together,
// while generation itself stays serialized by the processing loop. A
// failing image is logged and counted, never aborting the rest.
//
// The returned error is non-nil only when ctx ended before every image
// settled; the summary is valid either way.
func (s *Scheduler) PrepareProject(ctx context.Context, images []ImageRef) (PrepareSummary, error) {
	s.mu.Lock()
	s.stats = Stats{TotalImages: len(images), IsPreparationPhase: true}
	s.mu.Unlock()
	s.emit(Event{Kind: EventPreparationStart, Summary: &PrepareSummary{Total: len(images)}})
	s.log.Info("project preparation started", zap.Int("images", len(images)))

	outcomes := make([]prepareOutcome, len(images))
	handles := make([]*Handle[PrepareResult], len(images))
	for i, img := range images {
		h, err := s.SubmitPreparation(ctx, img.Path, img.Name, PriorityPreparation)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		handles[i] = h
	}

	var g errgroup.Group
	for i, h := range handles {
		i, h := i, h
		if h == nil {
			continue
		}
		g.Go(func() error {
			res, err := h.Wait(ctx)
			outcomes[i] = prepareOutcome{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	summary := PrepareSummary{Total: len(images)}
	for i, o := range outcomes {
		switch {
		case o.Err != nil:
			summary.Failed++
			s.log.Warn("image preparation failed",
				zap.String("path", images[i].Path),
				zap.String("name", images[i].Name),
				zap.Stringer("class", Classify(o.Err)),
				zap.Error(o.Err))
		case o.Result.Skipped || o.Result.FromCache:
			summary.Cached++
		default:
			summary.Prepared++
		}
	}

	s.mu.Lock()
	s.stats.IsPreparationPhase = false
	s.mu.Unlock()
	s.emit(Event{Kind: EventPreparationComplete, Summary: &summary})
	s.log.Info("project preparation complete",
		zap.Int("total", summary.Total),
		zap.Int("prepared", summary.Prepared),
		zap.Int("cached", summary.Cached),
		zap.Int("failed", summary.Failed))

	return summary, ctx.Err()
}

type prepareOutcome struct {
	Result PrepareResult
	Err    error
}
