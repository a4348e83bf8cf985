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
	"regexp"
	"strings"

	"trpc.group/trpc-go/clawdini/graph"
)

// mergeConfig configures a merge node.
type mergeConfig struct {
	Mode    string `json:"mode"`
	ModelID string `json:"modelId,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

const defaultMergePrompt = "Synthesize the following sources into a single coherent text. " +
	"Preserve every substantive point, resolve contradictions explicitly and drop " +
	"duplicated content.\n\n{INPUTS}"

const consensusMergePrompt = "The following sources are positions from independent " +
	"contributors. Produce meeting minutes for them: a short summary of the discussion, " +
	"the points of agreement, the points of disagreement with who holds which view, and " +
	"the consensus conclusion if one exists.\n\n{INPUTS}"

var inputsToken = regexp.MustCompile(`(?i)\{INPUTS\}`)

// sourcesBlock renders inputs as numbered source sections.
func sourcesBlock(inputs []graph.NodePayload) string {
	blocks := make([]string, 0, len(inputs))
	for i, in := range inputs {
		blocks = append(blocks, fmt.Sprintf("=== Source %d ===\n%s\n", i+1, in.Text))
	}
	return strings.Join(blocks, "\n")
}

// execMerge combines the payloads of all enabled in-edges. concat is purely
// textual; llm and consensus synthesize through the gateway on a merge-scoped
// session. Partial output survives a timeout; only a timeout with zero output
// is fatal.
func execMerge(ctx context.Context, r *Runner, node *graph.Node, inputs []graph.NodePayload) (*execResult, error) {
	var cfg mergeConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	if cfg.Mode == "" || cfg.Mode == "concat" {
		return &execResult{payload: graph.NewPayload(sourcesBlock(inputs))}, nil
	}

	switch cfg.Mode {
	case "llm", "consensus":
	default:
		return nil, fmt.Errorf("node %s: unknown merge mode %q", node.ID, cfg.Mode)
	}

	switch len(inputs) {
	case 0:
		return &execResult{payload: graph.NewPayload("")}, nil
	case 1:
		// A single source needs no synthesis; pass it through unchanged.
		return &execResult{payload: inputs[0]}, nil
	}

	template := cfg.Prompt
	if template == "" {
		template = defaultMergePrompt
		if cfg.Mode == "consensus" {
			template = consensusMergePrompt
		}
	}
	// The func form substitutes the block literally; upstream text may carry
	// $-sequences that ReplaceAllString would expand as group references.
	block := sourcesBlock(inputs)
	prompt := inputsToken.ReplaceAllStringFunc(template, func(string) string { return block })

	key := sessionKey("main", purposeMerge, r.id, node.ID)
	text, err := r.streamChat(ctx, chatRequest{
		nodeID:       node.ID,
		sessionKey:   key,
		modelID:      cfg.ModelID,
		prompt:       prompt,
		allowPartial: true,
	})
	if err != nil {
		return nil, err
	}

	payload := graph.NewPayload(text)
	payload.Meta[graph.MetaSessionKey] = key
	return &execResult{payload: payload}, nil
}
