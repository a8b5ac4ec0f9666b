package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestPrepareProject(t *testing.T) {
	s, c, g := newTestScheduler(t)
	cached := c.addImage("cached.tiff", 1, 1)
	c.putTile(cached, 0, 0, []byte("t"))
	g.processErr["broken.tiff"] = errors.New("not an image")

	var mu sync.Mutex
	var kinds []EventKind
	var final *PrepareSummary
	var completed []int
	unsubscribe := s.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Kind {
		case EventPreparationStart, EventPreparationComplete:
			kinds = append(kinds, ev.Kind)
			if ev.Kind == EventPreparationComplete {
				final = ev.Summary
			}
		case EventProgress:
			completed = append(completed, ev.Stats.CompletedImages)
		}
	})
	defer unsubscribe()

	images := []ImageRef{
		{Path: "a.tiff", Name: "Section A"},
		{Path: "cached.tiff", Name: "Cached"},
		{Path: "broken.tiff", Name: "Broken"},
		{Path: "b.tiff", Name: "Section B"},
	}
	summary, err := s.PrepareProject(context.Background(), images)
	if err != nil {
		t.Fatal(err)
	}
	want := PrepareSummary{Total: 4, Prepared: 2, Cached: 1, Failed: 1}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}

	want2 := []string{"process:a.tiff", "process:broken.tiff", "process:b.tiff"}
	if got := g.callLog(); !equalStrings(got, want2) {
		t.Errorf("calls = %v, want %v", got, want2)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != EventPreparationStart || kinds[1] != EventPreparationComplete {
		t.Errorf("phase events = %v", kinds)
	}
	if final == nil || *final != want {
		t.Errorf("completion summary = %+v", final)
	}
	if n := len(completed); n == 0 || completed[n-1] != 2 {
		t.Errorf("completed images progression = %v, want to end at 2", completed)
	}

	st := s.Status().Stats
	if st.IsPreparationPhase {
		t.Error("still in preparation phase")
	}
	if st.TotalImages != 4 || st.CompletedImages != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPrepareProject_SubmitErrorCounted(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	summary, err := s.PrepareProject(context.Background(), []ImageRef{
		{Path: "", Name: "unreadable"},
		{Path: "ok.tiff", Name: "ok"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 || summary.Prepared != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestPrepareProject_ContextCancelled(t *testing.T) {
	s, _, g := newTestScheduler(t)
	g.block("slow.tiff")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for call := range g.started {
			if call == "process:slow.tiff" {
				break
			}
		}
		cancel()
	}()

	summary, err := s.PrepareProject(ctx, []ImageRef{{Path: "slow.tiff", Name: "slow"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
}
