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

// judgeConfig configures a judge node.
type judgeConfig struct {
	Criteria  string `json:"criteria"`
	ModelID   string `json:"modelId,omitempty"`
	PassScore int    `json:"passScore,omitempty"`
}

const judgePromptFormat = `You are an evaluator. Judge the material below against these criteria:

%s
%s
Respond with RAW JSON only, no markdown fences and no commentary, matching exactly:
{"status": "done" | "continue" | "needs_info" | "failed" | "human_review",
 "score": <integer 0-100>,
 "reasons": [<string>...],
 "missing": [<string>...],
 "nextActionHint": <string>,
 "recommendedBranch": <string>}

--- MATERIAL ---

%s`

// execJudge asks the model for a Decision verdict over the upstream text. The
// reply is fence-stripped and parsed; a reply that is not valid JSON is kept
// as plain text rather than failing the node.
func execJudge(ctx context.Context, r *Runner, node *graph.Node, inputs []graph.NodePayload) (*execResult, error) {
	var cfg judgeConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}

	passHint := ""
	if cfg.PassScore > 0 {
		passHint = fmt.Sprintf("\nA score of %d or higher counts as passing.\n", cfg.PassScore)
	}
	prompt := fmt.Sprintf(judgePromptFormat, cfg.Criteria, passHint, joinInputTexts(inputs))

	key := sessionKey("main", purposeJudge, r.id, node.ID)
	text, err := r.streamChat(ctx, chatRequest{
		nodeID:     node.ID,
		sessionKey: key,
		modelID:    cfg.ModelID,
		prompt:     prompt,
	})
	if err != nil {
		return nil, err
	}

	stripped := stripFences(text)
	parsed, err := parseModelJSON(stripped)
	if err != nil {
		log.Warnf("run %s: node %s: verdict is not JSON, keeping raw text: %v", r.id, node.ID, err)
		payload := graph.NewPayload(text)
		payload.Meta[graph.MetaSessionKey] = key
		return &execResult{payload: payload}, nil
	}

	payload := graph.NewPayload(stripped)
	payload.JSON = parsed
	payload.Meta[graph.MetaSessionKey] = key
	return &execResult{payload: payload}, nil
}
