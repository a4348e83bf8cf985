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

	"trpc.group/trpc-go/clawdini/graph"
)

// agentConfig configures an agent node.
type agentConfig struct {
	AgentID string `json:"agentId"`
	ModelID string `json:"modelId,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Canonical system prompts for the role presets. The custom role is a no-op.
var rolePrompts = map[string]string{
	"planner": "You are a planner. Break the task below into a numbered, ordered plan of " +
		"concrete steps. For each step state what is produced and what it depends on. " +
		"Do not execute the steps.",
	"critic": "You are a critic. Review the material below for errors, gaps, unstated " +
		"assumptions and weak reasoning. List each finding with its severity and a " +
		"suggested fix. Do not rewrite the material.",
	"researcher": "You are a researcher. Gather and synthesize the facts relevant to the " +
		"request below. Cite where each fact comes from when a source is available and " +
		"flag anything uncertain.",
	"operator": "You are an operator. Carry out the instructions below exactly and report " +
		"what you did. Prefer acting over discussing; ask nothing back.",
}

// execAgent sends the aggregated upstream text to a dedicated chat session and
// streams the reply. The node fails when the gateway reports error or aborted,
// or when no final arrives within the hard timeout.
func execAgent(ctx context.Context, r *Runner, node *graph.Node, inputs []graph.NodePayload) (*execResult, error) {
	var cfg agentConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("node %s: agentId is required", node.ID)
	}

	prompt := joinInputTexts(inputs)
	if system, ok := rolePrompts[cfg.Role]; ok {
		prompt = system + "\n\n--- INPUT ---\n\n" + prompt
	}

	key := sessionKey(cfg.AgentID, purposeChat, r.id, node.ID)
	text, err := r.streamChat(ctx, chatRequest{
		nodeID:     node.ID,
		sessionKey: key,
		modelID:    cfg.ModelID,
		prompt:     prompt,
	})
	if err != nil {
		return nil, err
	}

	payload := graph.NewPayload(text)
	payload.Meta[graph.MetaAgentID] = cfg.AgentID
	payload.Meta[graph.MetaSessionKey] = key
	if cfg.ModelID != "" {
		payload.Meta[graph.MetaModelID] = cfg.ModelID
	}
	return &execResult{payload: payload}, nil
}
