// Package jobmgr runs named background jobs under one parent context and
// keeps track of which are alive.
//
//	jm := jobmgr.NewManager(ctx, jobmgr.LogReporter(log))
//	_ = jm.Every("transient-sweep", time.Hour, sweep)
//	...
//	jm.Shutdown()
//
// Jobs are removed from the registry when they return.
package jobmgr

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventKind is a job lifecycle transition.
type EventKind string

const (
	Running EventKind = "running"
	Done    EventKind = "done"
	Failed  EventKind = "error"
)

// Event is delivered to the reporter on every transition.
type Event struct {
	Job  string
	Kind EventKind
	Err  error
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s:%s:%v", e.Kind, e.Job, e.Err)
	}
	return fmt.Sprintf("%s:%s", e.Kind, e.Job)
}

// StatusReporter receives lifecycle events. It must not block.
type StatusReporter func(Event)

// LogReporter logs events through zerolog.
func LogReporter(log zerolog.Logger) StatusReporter {
	return func(e Event) {
		switch e.Kind {
		case Failed:
			log.Error().Err(e.Err).Str("job", e.Job).Msg("job failed")
		case Running:
			log.Debug().Str("job", e.Job).Msg("job started")
		default:
			log.Debug().Str("job", e.Job).Msg("job finished")
		}
	}
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager starts, stops and tracks jobs. Safe for concurrent use.
type Manager struct {
	parent   context.Context
	reporter StatusReporter

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

// NewManager ties every job to parent. The reporter may be nil.
func NewManager(parent context.Context, reporter StatusReporter) *Manager {
	return &Manager{
		parent:   parent,
		reporter: reporter,
		jobs:     make(map[string]*job),
	}
}

// Start runs fn in its own goroutine. A job with the same name must not
// already be running.
func (m *Manager) Start(name string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[name]; exists {
		return fmt.Errorf("job %q is already running", name)
	}
	if err := m.parent.Err(); err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}

	ctx, cancel := context.WithCancel(m.parent)
	j := &job{cancel: cancel, done: make(chan struct{})}
	m.jobs[name] = j
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer close(j.done)
		defer cancel()

		m.report(Event{Job: name, Kind: Running})
		if err := fn(ctx); err != nil {
			m.report(Event{Job: name, Kind: Failed, Err: err})
		} else {
			m.report(Event{Job: name, Kind: Done})
		}

		m.mu.Lock()
		if m.jobs[name] == j {
			delete(m.jobs, name)
		}
		m.mu.Unlock()
	}()
	return nil
}

// Every runs fn each interval until the job is stopped. A failing tick is
// reported and the job keeps going.
func (m *Manager) Every(name string, interval time.Duration, fn func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", name)
	}
	return m.Start(name, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					m.report(Event{Job: name, Kind: Failed, Err: err})
				}
			}
		}
	})
}

// Stop cancels a job and waits for it to return.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	j, ok := m.jobs[name]
	if ok {
		delete(m.jobs, name)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not running", name)
	}
	j.cancel()
	<-j.done
	return nil
}

// Shutdown cancels every job and waits for all of them.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for name, j := range m.jobs {
		j.cancel()
		delete(m.jobs, name)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// List returns running job names, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Status returns a one-line summary such as "Running jobs: a, b".
func (m *Manager) Status() string {
	active := m.List()
	if len(active) == 0 {
		return "No jobs are running."
	}
	return "Running jobs: " + strings.Join(active, ", ")
}

func (m *Manager) report(e Event) {
	if m.reporter != nil {
		m.reporter(e)
	}
}
