//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"trpc.group/trpc-go/clawdini/graph"
)

// Run-scoped and node-scoped event types emitted into the run event stream.
const (
	EventRunStarted   = "runStarted"
	EventRunCompleted = "runCompleted"
	EventRunError     = "runError"
	EventRunCancelled = "runCancelled"
	EventNodeStarted  = "nodeStarted"
	EventNodeDelta    = "nodeDelta"
	EventNodeFinal    = "nodeFinal"
	EventNodeError    = "nodeError"
	EventNodeAborted  = "nodeAborted"
	EventThinking     = "thinking"
)

// Event is a single element of the run-scoped event stream. The JSON shape is
// part of the run-submission protocol; nodeDelta data carries the new text
// suffix only, never the cumulative text.
type Event struct {
	Type    string             `json:"type"`
	RunID   string             `json:"runId,omitempty"`
	NodeID  string             `json:"nodeId,omitempty"`
	Data    *graph.NodePayload `json:"data,omitempty"`
	Error   string             `json:"error,omitempty"`
	Content string             `json:"content,omitempty"`
}

// EventSink receives run events. Implementations must be safe for concurrent
// Emit: a runner and the child runners it spawns share one sink.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

// Emit implements EventSink.
func (f SinkFunc) Emit(e Event) { f(e) }
