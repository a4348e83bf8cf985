//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/clawdini/gateway"
	"trpc.group/trpc-go/clawdini/graph"
	"trpc.group/trpc-go/clawdini/runner"
)

// nullGW satisfies runner.Gateway for graphs that never reach the gateway.
type nullGW struct{}

func (nullGW) Request(context.Context, string, any) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (nullGW) SessionsReset(context.Context, string) error                 { return nil }
func (nullGW) SessionsPatch(context.Context, string, map[string]any) error { return nil }
func (nullGW) ChatSend(context.Context, string, string, gateway.ChatSendOptions) (string, error) {
	return "chat-1", nil
}
func (nullGW) ChatAbort(context.Context, string, string) error { return nil }
func (nullGW) On(string, gateway.EventHandler) func()          { return func() {} }

func passthroughGraph(t *testing.T) *graph.Graph {
	t.Helper()
	cfg, err := json.Marshal(map[string]string{"prompt": "hello"})
	require.NoError(t, err)
	return &graph.Graph{
		Nodes: []graph.Node{
			{ID: "in", Kind: graph.NodeKindInput, Config: cfg},
			{ID: "out", Kind: graph.NodeKindOutput},
		},
		Edges: []graph.Edge{{Source: "in", Target: "out"}},
	}
}

func newTestRegistry(grace time.Duration) *Registry {
	return New(nullGW{}, Options{
		GraceWindow:   grace,
		RunnerOptions: runner.Options{SettleDelay: -1},
	})
}

// drain reads events until the run's terminal event or a timeout.
func drain(t *testing.T, events <-chan runner.Event, runID string) []runner.Event {
	t.Helper()
	var out []runner.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
			if ev.RunID == runID && isTerminal(ev) {
				return out
			}
		case <-deadline:
			t.Fatal("timed out draining events")
		}
	}
}

func TestStartAndLiveSubscribe(t *testing.T) {
	reg := newTestRegistry(time.Minute)
	runID, err := reg.Start(passthroughGraph(t), "")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	events, off, err := reg.Subscribe(runID)
	require.NoError(t, err)
	defer off()

	got := drain(t, events, runID)
	var types []string
	for _, ev := range got {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, runner.EventRunStarted)
	assert.Contains(t, types, runner.EventRunCompleted)
}

func TestLateSubscriberReplaysBuffer(t *testing.T) {
	reg := newTestRegistry(time.Minute)
	runID, err := reg.Start(passthroughGraph(t), "")
	require.NoError(t, err)

	// Let the run finish before the subscriber of interest attaches.
	first, offFirst, err := reg.Subscribe(runID)
	require.NoError(t, err)
	drain(t, first, runID)
	offFirst()

	events, off, err := reg.Subscribe(runID)
	require.NoError(t, err)
	defer off()

	got := drain(t, events, runID)
	require.NotEmpty(t, got)

	// The full lifecycle replays in order for a subscriber that missed it.
	assert.Equal(t, runner.EventRunStarted, got[0].Type)
	assert.Equal(t, runner.EventRunCompleted, got[len(got)-1].Type)
	var finals int
	for _, ev := range got {
		if ev.Type == runner.EventNodeFinal {
			finals++
		}
	}
	assert.Equal(t, 2, finals)
}

func TestGraceWindowEviction(t *testing.T) {
	reg := newTestRegistry(50 * time.Millisecond)
	runID, err := reg.Start(passthroughGraph(t), "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, err := reg.Subscribe(runID)
		return err != nil
	}, 5*time.Second, 20*time.Millisecond)

	_, _, err = reg.Subscribe(runID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, reg.Cancel(context.Background(), runID), ErrRunNotFound)
}

func TestStartRejectsInvalidGraph(t *testing.T) {
	reg := newTestRegistry(time.Minute)
	_, err := reg.Start(&graph.Graph{
		Nodes: []graph.Node{{ID: "a"}, {ID: "b"}},
		Edges: []graph.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}, "")
	assert.ErrorIs(t, err, graph.ErrCycle)
}

func TestCancelUnknownRun(t *testing.T) {
	reg := newTestRegistry(time.Minute)
	err := reg.Cancel(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
