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

	"trpc.group/trpc-go/clawdini/graph"
)

// invokeConfig configures an invoke node.
type invokeConfig struct {
	CommandName     string `json:"commandName"`
	PayloadTemplate string `json:"payloadTemplate"`
}

// execInvoke calls a user-named gateway command. The payload template is a
// JSON document with {INPUT} tokens; the upstream text is JSON-string-escaped
// before substitution. A template that does not parse falls back to
// {payload: rawString}. RPC failure is fatal for this node.
func execInvoke(ctx context.Context, r *Runner, node *graph.Node, inputs []graph.NodePayload) (*execResult, error) {
	var cfg invokeConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	if cfg.CommandName == "" {
		return nil, fmt.Errorf("node %s: commandName is required", node.ID)
	}

	input := joinInputTexts(inputs)
	rendered := strings.ReplaceAll(cfg.PayloadTemplate, "{INPUT}", jsonEscape(input))

	var params any
	if err := json.Unmarshal([]byte(rendered), &params); err != nil {
		params = map[string]any{"payload": rendered}
	}

	result, err := r.gw.Request(ctx, cfg.CommandName, params)
	if err != nil {
		return nil, fmt.Errorf("node %s: %s: %w", node.ID, cfg.CommandName, err)
	}

	var structured any
	if err := json.Unmarshal(result, &structured); err != nil || structured == nil {
		return &execResult{payload: graph.NewPayload(string(result))}, nil
	}
	if s, isString := structured.(string); isString {
		return &execResult{payload: graph.NewPayload(s)}, nil
	}
	payload := graph.NewPayload(string(result))
	payload.JSON = structured
	return &execResult{payload: payload}, nil
}

// jsonEscape escapes s for embedding inside a JSON string literal.
func jsonEscape(s string) string {
	raw, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(raw[1 : len(raw)-1])
}
