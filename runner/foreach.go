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
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"trpc.group/trpc-go/clawdini/graph"
	"trpc.group/trpc-go/clawdini/log"
)

// foreachConfig configures a foreach node.
type foreachConfig struct {
	ArrayPath string `json:"arrayPath,omitempty"`
}

// execForEach fans the elements of an upstream array out over the node's
// successor subgraph. The parent's own out-edges are disabled so only the
// children execute the successors; each child runner shares the gateway and
// sink but owns its node outputs, disabled edges, state memory and run ID.
func execForEach(ctx context.Context, r *Runner, node *graph.Node, inputs []graph.NodePayload) (*execResult, error) {
	var cfg foreachConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	elements := extractArray(cfg.ArrayPath, inputs)
	if len(elements) == 0 {
		return &execResult{
			payload:      graph.NewPayload(textHaltedNoArray),
			disableEdges: r.outEdgeKeys(node.ID),
		}, nil
	}

	sub := r.graph.Subgraph(node.ID)
	if len(sub.Nodes) == 0 {
		return &execResult{
			payload:      graph.NewPayload(textHaltedNoArray),
			disableEdges: r.outEdgeKeys(node.ID),
		}, nil
	}

	var wg sync.WaitGroup
	children := make([]*Runner, 0, len(elements))
	for i, element := range elements {
		// Children dispatch their nodes on plain goroutines. This executor
		// already occupies a pool worker while it waits; handing children the
		// same pool lets the fan-out exhaust it and deadlock the run.
		child := New(uuid.NewString(), sub, r.gw, r.sink, Options{
			SettleDelay: -1,
			ChatTimeout: r.chatTimeout,
			Input:       stringifyElement(element),
		})
		children = append(children, child)
		log.Infof("run %s: node %s: spawning child run %s for element %d", r.id, node.ID, child.ID(), i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			child.Run(ctx)
		}()
	}

	// Parent cancellation cascades into every child.
	cancelWatch := make(chan struct{})
	go func() {
		select {
		case <-r.cancelCh:
		case <-ctx.Done():
		case <-cancelWatch:
			return
		}
		for _, child := range children {
			child.Cancel(context.Background())
		}
	}()
	wg.Wait()
	close(cancelWatch)

	return &execResult{
		payload:      graph.NewPayload(fmt.Sprintf("Completed %d parallel sub-executions.", len(elements))),
		disableEdges: r.outEdgeKeys(node.ID),
	}, nil
}

// extractArray locates the fan-out array: arrayPath walks the input's
// structured value; otherwise the input's json is used directly; as a last
// resort the text is parsed as JSON.
func extractArray(arrayPath string, inputs []graph.NodePayload) []any {
	for _, in := range inputs {
		doc := in.JSON
		if doc == nil {
			parsed, err := parseModelJSON(in.Text)
			if err != nil {
				continue
			}
			doc = parsed
		}
		if arrayPath != "" {
			raw, err := json.Marshal(doc)
			if err != nil {
				continue
			}
			res := gjson.GetBytes(raw, arrayPath)
			if !res.IsArray() {
				continue
			}
			var sub any
			if err := json.Unmarshal([]byte(res.Raw), &sub); err != nil {
				continue
			}
			doc = sub
		}
		if list, ok := doc.([]any); ok && len(list) > 0 {
			return list
		}
	}
	return nil
}

// stringifyElement passes strings through and JSON-encodes everything else.
func stringifyElement(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
