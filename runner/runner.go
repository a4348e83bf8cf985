//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

// Package runner executes a workflow graph against the agent gateway. The
// runner schedules nodes level by level with maximal parallelism consistent
// with data dependencies, streams per-node deltas into a run-scoped event
// sink, disables edges on routing decisions and propagates cooperative
// cancellation down to in-flight gateway chats.
package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/clawdini/graph"
	"trpc.group/trpc-go/clawdini/internal/metrics"
	"trpc.group/trpc-go/clawdini/log"
)

const (
	// defaultSettleDelay gives interactive subscribers time to attach before
	// runStarted. The registry buffer makes it redundant but harmless.
	defaultSettleDelay = 500 * time.Millisecond
	// defaultChatTimeout bounds a single chat wait-for-final.
	defaultChatTimeout = 120 * time.Second
)

// Halting texts recorded by routing decisions.
const (
	textHaltedSkipped = "Halted (Skipped)"
	textHaltedNoMatch = "Halted (No conditions matched)"
	textHaltedNoArray = "Halted (No Array Found)"
)

// Node result statuses.
const (
	statusCompleted = "completed"
	statusError     = "error"
	statusAborted   = "aborted"
)

// Options configures a Runner.
type Options struct {
	// SettleDelay before runStarted. Negative disables the delay entirely;
	// zero means the default.
	SettleDelay time.Duration
	// ChatTimeout bounds agent/merge/judge/extract wait-for-final.
	ChatTimeout time.Duration
	// Pool is an optional shared goroutine pool for node dispatch; when nil
	// the runner falls back to plain goroutines.
	Pool *ants.Pool
	// Input is the run's global input, fed to nodes without in-edges.
	Input string
}

type nodeResult struct {
	payload graph.NodePayload
	status  string
	err     string
}

type chatHandle struct {
	sessionKey string
	chatRunID  string
}

// Runner owns a single execution of an immutable graph. Node outputs and the
// disabled-edge set are written only between levels by the scheduling
// goroutine; executors hand their results back instead of writing directly.
type Runner struct {
	id    string
	graph *graph.Graph
	gw    Gateway
	sink  EventSink

	settleDelay time.Duration
	chatTimeout time.Duration
	pool        *ants.Pool
	input       string

	mu       sync.Mutex
	results  map[string]*nodeResult
	disabled map[string]bool
	inflight map[string]chatHandle
	memory   *Memory

	cancelled atomic.Bool
	cancelCh  chan struct{}
	done      chan struct{}
}

// New constructs a runner for one run of g. The sink is shared with any child
// runners spawned by foreach nodes and must tolerate concurrent Emit.
func New(runID string, g *graph.Graph, gw Gateway, sink EventSink, opts Options) *Runner {
	settle := opts.SettleDelay
	if settle == 0 {
		settle = defaultSettleDelay
	} else if settle < 0 {
		settle = 0
	}
	chatTimeout := opts.ChatTimeout
	if chatTimeout == 0 {
		chatTimeout = defaultChatTimeout
	}
	return &Runner{
		id:          runID,
		graph:       g,
		gw:          gw,
		sink:        sink,
		settleDelay: settle,
		chatTimeout: chatTimeout,
		pool:        opts.Pool,
		input:       opts.Input,
		results:     make(map[string]*nodeResult),
		disabled:    make(map[string]bool),
		inflight:    make(map[string]chatHandle),
		memory:      NewMemory(),
		cancelCh:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// ID returns the run ID.
func (r *Runner) ID() string { return r.id }

// Done is closed when the run terminates.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Result returns the recorded payload of a node and whether it completed.
func (r *Runner) Result(nodeID string) (graph.NodePayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[nodeID]
	if !ok {
		return graph.NodePayload{}, false
	}
	return res.payload, res.status == statusCompleted
}

// Run executes the graph to termination. A cycle or missing-node reference is
// fatal and reported as runError; individual node failures are not.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)

	levels, err := r.graph.Levels()
	if err != nil {
		r.sink.Emit(Event{Type: EventRunError, RunID: r.id, Error: err.Error()})
		metrics.RunsTerminated.WithLabelValues("error").Inc()
		return
	}

	if r.settleDelay > 0 {
		select {
		case <-time.After(r.settleDelay):
		case <-ctx.Done():
		}
	}
	r.sink.Emit(Event{Type: EventRunStarted, RunID: r.id})
	metrics.RunsStarted.Inc()

	for _, level := range levels {
		if r.cancelled.Load() || ctx.Err() != nil {
			break
		}
		r.runLevel(ctx, level)
	}

	switch {
	case r.cancelled.Load() || ctx.Err() != nil:
		r.sink.Emit(Event{Type: EventRunCancelled, RunID: r.id})
		metrics.RunsTerminated.WithLabelValues("cancelled").Inc()
	default:
		r.sink.Emit(Event{Type: EventRunCompleted, RunID: r.id})
		metrics.RunsTerminated.WithLabelValues("completed").Inc()
	}
}

// runLevel dispatches every node of one level concurrently, waits for all of
// them, then applies results and edge-disable effects in deterministic order.
func (r *Runner) runLevel(ctx context.Context, level []string) {
	outcomes := make([]*execOutcome, len(level))
	var wg sync.WaitGroup
	for i, nodeID := range level {
		wg.Add(1)
		i, nodeID := i, nodeID
		task := func() {
			defer wg.Done()
			outcomes[i] = r.execNode(ctx, nodeID)
		}
		if r.pool != nil {
			if err := r.pool.Submit(task); err != nil {
				go task()
			}
		} else {
			go task()
		}
	}
	wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, nodeID := range level {
		out := outcomes[i]
		if out == nil {
			continue
		}
		r.results[nodeID] = &out.result
		for _, key := range out.disableEdges {
			r.disabled[key] = true
		}
	}
}

// execOutcome is what a node execution hands back to the scheduler.
type execOutcome struct {
	result       nodeResult
	disableEdges []string
}

// execNode runs the full per-node lifecycle: pre-dispatch abort check,
// nodeStarted, executor invocation, nodeFinal or nodeError.
func (r *Runner) execNode(ctx context.Context, nodeID string) *execOutcome {
	node, ok := r.graph.NodeByID(nodeID)
	if !ok {
		return &execOutcome{result: nodeResult{status: statusError, err: "node not found"}}
	}

	inputs, enabled, total := r.collectInputs(nodeID)

	// Pre-dispatch rule: a node whose in-edges all got disabled is aborted
	// without invocation, and the halt cascades through its out-edges.
	if total > 0 && enabled == 0 {
		r.sink.Emit(Event{Type: EventNodeAborted, NodeID: nodeID})
		metrics.NodeExecutions.WithLabelValues(string(node.Kind), "aborted").Inc()
		payload := graph.NewPayload(textHaltedSkipped)
		return &execOutcome{
			result:       nodeResult{payload: payload, status: statusAborted},
			disableEdges: r.outEdgeKeys(nodeID),
		}
	}

	empty := graph.NewPayload("")
	r.sink.Emit(Event{Type: EventNodeStarted, NodeID: nodeID, Data: &empty})

	exec, ok := executors[node.Kind]
	if !ok {
		err := "unknown node kind: " + string(node.Kind)
		r.sink.Emit(Event{Type: EventNodeError, NodeID: nodeID, Error: err})
		metrics.NodeExecutions.WithLabelValues(string(node.Kind), "error").Inc()
		return &execOutcome{result: nodeResult{status: statusError, err: err}}
	}

	res, err := exec(ctx, r, node, inputs)
	if err != nil {
		log.Warnf("run %s: node %s (%s) failed: %v", r.id, nodeID, node.Kind, err)
		r.sink.Emit(Event{Type: EventNodeError, NodeID: nodeID, Error: err.Error()})
		metrics.NodeExecutions.WithLabelValues(string(node.Kind), "error").Inc()
		return &execOutcome{result: nodeResult{status: statusError, err: err.Error()}}
	}

	payload := res.payload
	if payload.Meta == nil {
		payload.Meta = map[string]any{}
	}
	r.sink.Emit(Event{Type: EventNodeFinal, NodeID: nodeID, Data: &payload})
	metrics.NodeExecutions.WithLabelValues(string(node.Kind), "completed").Inc()
	return &execOutcome{
		result:       nodeResult{payload: payload, status: statusCompleted},
		disableEdges: res.disableEdges,
	}
}

// collectInputs gathers the payloads of completed, non-disabled in-edges.
// A node without in-edges receives the run's global input when one is set.
func (r *Runner) collectInputs(nodeID string) (inputs []graph.NodePayload, enabled, total int) {
	inEdges := r.graph.InEdges(nodeID)
	total = len(inEdges)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range inEdges {
		if r.disabled[e.Key()] {
			continue
		}
		enabled++
		if res, ok := r.results[e.Source]; ok && res.status == statusCompleted {
			inputs = append(inputs, res.payload)
		}
	}
	if total == 0 && r.input != "" {
		inputs = append(inputs, graph.NewPayload(r.input))
	}
	return inputs, enabled, total
}

func (r *Runner) outEdgeKeys(nodeID string) []string {
	var keys []string
	for _, e := range r.graph.OutEdges(nodeID) {
		keys = append(keys, e.Key())
	}
	return keys
}

// Cancel stops the run cooperatively: no new levels are launched, and every
// in-flight gateway chat is aborted server-side so waiting executors observe
// an aborted event. Abort errors are ignored.
func (r *Runner) Cancel(ctx context.Context) {
	if r.cancelled.Swap(true) {
		return
	}
	close(r.cancelCh)
	r.mu.Lock()
	handles := make([]chatHandle, 0, len(r.inflight))
	for _, h := range r.inflight {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		if err := r.gw.ChatAbort(ctx, h.sessionKey, h.chatRunID); err != nil {
			log.Debugf("run %s: chat.abort %s: %v", r.id, h.sessionKey, err)
		}
	}
}

func (r *Runner) trackChat(nodeID, sessionKey, chatRunID string) {
	r.mu.Lock()
	r.inflight[nodeID] = chatHandle{sessionKey: sessionKey, chatRunID: chatRunID}
	r.mu.Unlock()
}

func (r *Runner) untrackChat(nodeID string) {
	r.mu.Lock()
	delete(r.inflight, nodeID)
	r.mu.Unlock()
}
