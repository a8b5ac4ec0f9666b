package scheduler

import "sync"

// EventKind names a scheduler notification.
type EventKind string

const (
	EventProgress            EventKind = "progress"
	EventTileProgress        EventKind = "tileProgress"
	EventPreparationStart    EventKind = "preparationStart"
	EventPreparationComplete EventKind = "preparationComplete"
	EventQueueEmpty          EventKind = "queueEmpty"
)

// Event is delivered to observers. Which payload field is set depends on
// Kind:
//
//	progress                Stats
//	tileProgress            Tile
//	preparationStart        Summary (Total only)
//	preparationComplete     Summary
//	queueEmpty              none
type Event struct {
	Kind    EventKind
	Stats   Stats
	Tile    *TileProgress
	Summary *PrepareSummary
}

// TileProgress reports per-tile progress of a running Preparation.
type TileProgress struct {
	Hash    string
	Name    string
	Current int
	Total   int
}

// Observer receives events. Observers run on the goroutine that produced
// the event, often the processing loop, so they must not block.
type Observer func(Event)

type observers struct {
	mu   sync.RWMutex
	next int
	m    map[int]Observer
}

func (o *observers) add(fn Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.m == nil {
		o.m = make(map[int]Observer)
	}
	id := o.next
	o.next++
	o.m[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.m, id)
			o.mu.Unlock()
		})
	}
}

func (o *observers) emit(ev Event) {
	o.mu.RLock()
	fns := make([]Observer, 0, len(o.m))
	for _, fn := range o.m {
		fns = append(fns, fn)
	}
	o.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribe registers fn for every event and returns a function that
// removes it.
func (s *Scheduler) Subscribe(fn Observer) (unsubscribe func()) {
	return s.obs.add(fn)
}

// SubscribeChan delivers events on a buffered channel. Events that do not
// fit in the buffer are dropped rather than stalling the processing loop.
// The channel is never closed; stop delivery with the returned function.
func (s *Scheduler) SubscribeChan(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	stop := s.obs.add(func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch, stop
}

func (s *Scheduler) emit(ev Event) {
	s.obs.emit(ev)
}
