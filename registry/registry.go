//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

// Package registry tracks live workflow runs. It mints run IDs, starts runners
// asynchronously, buffers each run's recent events so late subscribers miss
// nothing, and retains terminated runs for a short grace window.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/clawdini/graph"
	"trpc.group/trpc-go/clawdini/internal/metrics"
	"trpc.group/trpc-go/clawdini/log"
	"trpc.group/trpc-go/clawdini/runner"
)

const (
	// eventBufferSize bounds the per-run replay buffer.
	eventBufferSize = 500
	// defaultGraceWindow keeps a terminated run around so a late subscriber
	// can still drain its buffer.
	defaultGraceWindow = 10 * time.Second

	subscriberQueueSize = 512
)

// ErrRunNotFound is returned for unknown or already evicted run IDs.
var ErrRunNotFound = errors.New("registry: run not found")

// Options configures a Registry.
type Options struct {
	// Pool is an optional shared goroutine pool handed to every runner.
	Pool *ants.Pool
	// GraceWindow overrides the post-termination retention. Zero means the
	// default.
	GraceWindow time.Duration
	// RunnerOptions is merged into every runner's options (Input and Pool are
	// owned by the registry).
	RunnerOptions runner.Options
}

// Registry owns the run table.
type Registry struct {
	gw    runner.Gateway
	pool  *ants.Pool
	grace time.Duration
	ropts runner.Options

	mu   sync.Mutex
	runs map[string]*run
}

// New constructs an empty registry over a shared gateway.
func New(gw runner.Gateway, opts Options) *Registry {
	grace := opts.GraceWindow
	if grace == 0 {
		grace = defaultGraceWindow
	}
	return &Registry{
		gw:    gw,
		pool:  opts.Pool,
		grace: grace,
		ropts: opts.RunnerOptions,
		runs:  make(map[string]*run),
	}
}

// run couples one runner with its event buffer and subscribers.
type run struct {
	id     string
	runner *runner.Runner
	cancel context.CancelFunc

	mu       sync.Mutex
	buffer   []runner.Event
	subs     map[uint64]chan runner.Event
	nextSub  uint64
	terminal bool
}

// Start validates the graph, mints a run ID and launches the runner
// asynchronously. It returns immediately.
func (reg *Registry) Start(g *graph.Graph, input string) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	rn := &run{id: id, cancel: cancel, subs: make(map[uint64]chan runner.Event)}

	opts := reg.ropts
	opts.Pool = reg.pool
	opts.Input = input
	rn.runner = runner.New(id, g, reg.gw, runner.SinkFunc(rn.emit), opts)

	reg.mu.Lock()
	reg.runs[id] = rn
	reg.mu.Unlock()

	go func() {
		defer cancel()
		rn.runner.Run(ctx)
		reg.scheduleEvict(rn)
	}()

	log.Infof("registry: started run %s (%d nodes)", id, len(g.Nodes))
	return id, nil
}

// Subscribe attaches to a run's event stream. Buffered events are replayed
// first, then live events follow. The returned cancel function detaches the
// subscriber; the channel is closed once the run is evicted or detached.
func (reg *Registry) Subscribe(runID string) (<-chan runner.Event, func(), error) {
	reg.mu.Lock()
	rn, ok := reg.runs[runID]
	reg.mu.Unlock()
	if !ok {
		return nil, nil, ErrRunNotFound
	}

	rn.mu.Lock()
	ch := make(chan runner.Event, len(rn.buffer)+subscriberQueueSize)
	for _, ev := range rn.buffer {
		ch <- ev
	}
	if rn.terminal {
		rn.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	id := rn.nextSub
	rn.nextSub++
	rn.subs[id] = ch
	rn.mu.Unlock()

	metrics.EventSubscribers.Inc()
	var once sync.Once
	off := func() {
		once.Do(func() {
			metrics.EventSubscribers.Dec()
			rn.mu.Lock()
			if _, live := rn.subs[id]; live {
				delete(rn.subs, id)
				close(ch)
			}
			rn.mu.Unlock()
		})
	}
	return ch, off, nil
}

// Cancel requests cooperative cancellation of a run.
func (reg *Registry) Cancel(ctx context.Context, runID string) error {
	reg.mu.Lock()
	rn, ok := reg.runs[runID]
	reg.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	rn.runner.Cancel(ctx)
	return nil
}

// emit is the run's event sink. It appends to the replay ring and forwards to
// live subscribers; a subscriber that cannot keep up loses the event (deltas
// are recoverable, the buffer retains the rest).
func (rn *run) emit(ev runner.Event) {
	rn.mu.Lock()
	if len(rn.buffer) >= eventBufferSize {
		rn.buffer = append(rn.buffer[1:], ev)
	} else {
		rn.buffer = append(rn.buffer, ev)
	}
	if isTerminal(ev) && ev.RunID == rn.id {
		rn.terminal = true
	}
	// Sends stay under the lock so a concurrent unsubscribe cannot close a
	// channel mid-send. They never block: full subscribers lose the event.
	for _, ch := range rn.subs {
		select {
		case ch <- ev:
		default:
			log.Warnf("registry: run %s: slow subscriber, dropping %s", rn.id, ev.Type)
		}
	}
	rn.mu.Unlock()
}

// isTerminal reports whether ev ends a run. Child runs spawned by foreach
// share the sink, so the caller additionally matches the run ID.
func isTerminal(ev runner.Event) bool {
	switch ev.Type {
	case runner.EventRunCompleted, runner.EventRunError, runner.EventRunCancelled:
		return true
	}
	return false
}

// scheduleEvict removes the run after the grace window and closes any
// remaining subscriber channels.
func (reg *Registry) scheduleEvict(rn *run) {
	time.AfterFunc(reg.grace, func() {
		reg.mu.Lock()
		delete(reg.runs, rn.id)
		reg.mu.Unlock()

		rn.mu.Lock()
		for id, ch := range rn.subs {
			delete(rn.subs, id)
			close(ch)
		}
		rn.mu.Unlock()
		log.Debugf("registry: evicted run %s", rn.id)
	})
}
