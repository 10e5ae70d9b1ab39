package jobmgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) report(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) has(kind EventKind, job string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind && e.Job == job {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStartRejectsDuplicateAndStops(t *testing.T) {
	rec := &recorder{}
	m := NewManager(context.Background(), rec.report)
	block := func(ctx context.Context) error { <-ctx.Done(); return nil }

	if err := m.Start("sweep", block); err != nil {
		t.Fatal(err)
	}
	if err := m.Start("sweep", block); err == nil {
		t.Fatal("duplicate job accepted")
	}
	if got := m.Status(); got != "Running jobs: sweep" {
		t.Fatalf("status = %q", got)
	}
	if err := m.Stop("sweep"); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop("sweep"); err == nil {
		t.Fatal("stopping a stopped job succeeded")
	}
	if len(m.List()) != 0 {
		t.Fatalf("jobs left: %v", m.List())
	}
	if !rec.has(Running, "sweep") || !rec.has(Done, "sweep") {
		t.Fatalf("events = %v", rec.events)
	}
}

func TestFailedJobIsReportedAndRemoved(t *testing.T) {
	rec := &recorder{}
	m := NewManager(context.Background(), rec.report)
	if err := m.Start("boom", func(context.Context) error { return errors.New("no disk") }); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return rec.has(Failed, "boom") && len(m.List()) == 0 })
}

func TestEveryTicksUntilShutdown(t *testing.T) {
	rec := &recorder{}
	m := NewManager(context.Background(), rec.report)
	var ticks atomic.Int32
	err := m.Every("autosave", time.Millisecond, func(context.Context) error {
		if ticks.Add(1) == 2 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return ticks.Load() >= 3 })
	m.Shutdown()
	if !rec.has(Failed, "autosave") {
		t.Fatal("failing tick was not reported")
	}
	if !rec.has(Done, "autosave") {
		t.Fatal("job kept running after a failing tick")
	}
	if err := m.Every("zero", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("zero interval accepted")
	}
}

func TestStartAfterParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewManager(ctx, nil)
	if err := m.Start("late", func(context.Context) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
