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
	"context"
	"fmt"
	"sync"

	"trpc.group/trpc-go/clawdini/graph"
)

// Memory is the run-scoped keyed store mutated by state nodes and read by the
// template executor's state scope. It lives and dies with one run; child
// runners get their own.
type Memory struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewMemory returns an empty memory.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]any)}
}

// Get returns the value stored under a namespace.
func (m *Memory) Get(namespace string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[namespace]
	return v, ok
}

// Snapshot returns a shallow copy of every namespace.
func (m *Memory) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// Apply writes value into a namespace. replace overwrites, merge combines
// object keys with the incoming side winning, append accumulates a list.
func (m *Memory) Apply(namespace, mode string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch mode {
	case "", "replace":
		m.data[namespace] = value
	case "merge":
		prev, ok := m.data[namespace].(map[string]any)
		next, ok2 := value.(map[string]any)
		if !ok || !ok2 {
			m.data[namespace] = value
			return nil
		}
		merged := make(map[string]any, len(prev)+len(next))
		for k, v := range prev {
			merged[k] = v
		}
		for k, v := range next {
			merged[k] = v
		}
		m.data[namespace] = merged
	case "append":
		list, _ := m.data[namespace].([]any)
		m.data[namespace] = append(list, value)
	default:
		return fmt.Errorf("unknown state mode %q", mode)
	}
	return nil
}

// stateConfig configures a state node.
type stateConfig struct {
	Namespace string `json:"namespace"`
	Mode      string `json:"mode"`
}

// execState folds the upstream payload into the run memory. A structured
// upstream JSON value is stored as-is; otherwise the joined text is stored,
// parsed when it happens to be JSON.
func execState(_ context.Context, r *Runner, node *graph.Node, inputs []graph.NodePayload) (*execResult, error) {
	var cfg stateConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("node %s: namespace is required", node.ID)
	}

	var value any
	switch {
	case len(inputs) == 1 && inputs[0].JSON != nil:
		value = inputs[0].JSON
	default:
		text := joinInputTexts(inputs)
		if parsed, err := parseModelJSON(text); err == nil {
			value = parsed
		} else {
			value = text
		}
	}

	if err := r.memory.Apply(cfg.Namespace, cfg.Mode, value); err != nil {
		return nil, fmt.Errorf("node %s: %w", node.ID, err)
	}

	stored, _ := r.memory.Get(cfg.Namespace)
	payload := graph.NewPayload(fmt.Sprintf("State %q updated.", cfg.Namespace))
	payload.JSON = stored
	return &execResult{payload: payload}, nil
}
