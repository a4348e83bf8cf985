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
	"trpc.group/trpc-go/clawdini/log"
)

// extractConfig configures an extract node.
type extractConfig struct {
	Schema  string `json:"schema"`
	ModelID string `json:"modelId,omitempty"`
}

const extractPromptFormat = `Extract structured data from the material below.
Respond with RAW JSON only, no markdown fences and no commentary, matching this schema:

%s

--- MATERIAL ---

%s`

// execExtract asks the model for JSON matching the configured schema. A reply
// that fails to parse even after repair keeps the raw text instead of failing
// the node.
func execExtract(ctx context.Context, r *Runner, node *graph.Node, inputs []graph.NodePayload) (*execResult, error) {
	var cfg extractConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(extractPromptFormat, cfg.Schema, joinInputTexts(inputs))

	key := sessionKey("main", purposeExtract, r.id, node.ID)
	text, err := r.streamChat(ctx, chatRequest{
		nodeID:     node.ID,
		sessionKey: key,
		modelID:    cfg.ModelID,
		prompt:     prompt,
	})
	if err != nil {
		return nil, err
	}

	parsed, perr := parseModelJSON(stripFences(text))
	if perr != nil {
		log.Warnf("run %s: node %s: extraction is not JSON, keeping raw text: %v", r.id, node.ID, perr)
		payload := graph.NewPayload(text)
		payload.Meta[graph.MetaSessionKey] = key
		return &execResult{payload: payload}, nil
	}

	payload := graph.NewPayload("Successfully extracted JSON data.")
	payload.JSON = parsed
	payload.Meta[graph.MetaSessionKey] = key
	return &execResult{payload: payload}, nil
}
