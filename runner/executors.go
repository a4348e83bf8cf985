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
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"trpc.group/trpc-go/clawdini/graph"
)

// execResult is what an executor produces: the node payload plus any edges to
// disable for the remainder of the run. The scheduler applies disable effects
// between levels; executors never write shared state directly.
type execResult struct {
	payload      graph.NodePayload
	disableEdges []string
}

// executorFunc consumes the payloads of the node's enabled in-edges and
// produces the node's payload.
type executorFunc func(ctx context.Context, r *Runner, node *graph.Node, inputs []graph.NodePayload) (*execResult, error)

// executors maps each node kind to its strategy. Populated in init rather
// than a composite literal: foreach recurses into Runner.Run, which reads the
// map again, and a variable initializer is not allowed to reference itself
// through that cycle.
var executors map[graph.NodeKind]executorFunc

func init() {
	executors = map[graph.NodeKind]executorFunc{
		graph.NodeKindInput:    execInput,
		graph.NodeKindTemplate: execTemplate,
		graph.NodeKindAgent:    execAgent,
		graph.NodeKindMerge:    execMerge,
		graph.NodeKindJudge:    execJudge,
		graph.NodeKindSwitch:   execSwitch,
		graph.NodeKindExtract:  execExtract,
		graph.NodeKindInvoke:   execInvoke,
		graph.NodeKindForEach:  execForEach,
		graph.NodeKindState:    execState,
		graph.NodeKindOutput:   execOutput,
	}
}

// decodeConfig unmarshals the node's kind-specific configuration record.
func decodeConfig(node *graph.Node, out any) error {
	if len(node.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(node.Config, out); err != nil {
		return fmt.Errorf("node %s: invalid config: %w", node.ID, err)
	}
	return nil
}

// joinInputTexts concatenates upstream texts with blank lines.
func joinInputTexts(inputs []graph.NodePayload) string {
	texts := make([]string, 0, len(inputs))
	for _, in := range inputs {
		texts = append(texts, in.Text)
	}
	return strings.Join(texts, "\n\n")
}

// inputConfig configures an input node.
type inputConfig struct {
	Prompt string `json:"prompt"`
}

// execInput emits the configured prompt verbatim. No gateway interaction.
func execInput(_ context.Context, _ *Runner, node *graph.Node, _ []graph.NodePayload) (*execResult, error) {
	var cfg inputConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	return &execResult{payload: graph.NewPayload(cfg.Prompt)}, nil
}

// execOutput concatenates the text of all completed in-edges.
func execOutput(_ context.Context, _ *Runner, _ *graph.Node, inputs []graph.NodePayload) (*execResult, error) {
	return &execResult{payload: graph.NewPayload(joinInputTexts(inputs))}, nil
}

// stripFences removes an accidental markdown code fence around model output.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		// Drop the language tag line (```json etc).
		if lang := strings.TrimSpace(trimmed[:idx]); lang == "" || isFenceLang(lang) {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func isFenceLang(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// parseModelJSON parses model-produced JSON, repairing common damage (trailing
// commas, single quotes) before giving up. Repair is only trusted for
// structured values: prose would otherwise be "repaired" into a bare string.
func parseModelJSON(s string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(s), &value); err == nil {
		return value, nil
	}
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	trimmed := strings.TrimSpace(repaired)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, fmt.Errorf("parse JSON: not a structured value")
	}
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	return value, nil
}
