package scheduler

// Stats counts progress through the current project preparation.
type Stats struct {
	TotalImages        int
	CompletedImages    int
	CurrentImageName   string
	IsPreparationPhase bool
}

// CurrentRequest describes the request being processed.
type CurrentRequest struct {
	ID   string
	Kind Kind
	Name string
	Hash string
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	QueueLength int
	Processing  bool
	Current     *CurrentRequest
	Stats       Stats
}

// Status returns the current queue length, whether the loop is running,
// the in-flight request (if any) and a copy of Stats.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		QueueLength: s.queue.len(),
		Processing:  s.processing,
		Stats:       s.stats,
	}
	if r := s.current; r != nil {
		st.Current = &CurrentRequest{
			ID:   r.id,
			Kind: r.kind,
			Name: r.displayName(),
			Hash: r.hash,
		}
	}
	return st
}
