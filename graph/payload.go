//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

package graph

// Recognized payload meta keys. Unknown keys are preserved opaquely.
const (
	MetaSessionKey = "sessionKey"
	MetaModelID    = "modelId"
	MetaAgentID    = "agentId"
	MetaLatencyMs  = "latencyMs"
)

// NodePayload is the single value type that flows along edges. Text is never
// absent (empty string is legal); JSON is set only when the producer parsed a
// structured value. Once a node completes, its payload is frozen.
type NodePayload struct {
	Text string         `json:"text"`
	JSON any            `json:"json,omitempty"`
	Meta map[string]any `json:"meta"`
}

// NewPayload builds a text-only payload with an empty meta map.
func NewPayload(text string) NodePayload {
	return NodePayload{Text: text, Meta: map[string]any{}}
}

// Decision statuses produced by the judge node.
const (
	DecisionDone        = "done"
	DecisionContinue    = "continue"
	DecisionNeedsInfo   = "needs_info"
	DecisionFailed      = "failed"
	DecisionHumanReview = "human_review"
)

// Decision is the structured verdict produced by the judge node, carried in
// NodePayload.JSON. Score is 0..100.
type Decision struct {
	Status            string   `json:"status"`
	Score             int      `json:"score"`
	Reasons           []string `json:"reasons"`
	Missing           []string `json:"missing"`
	NextActionHint    string   `json:"nextActionHint"`
	RecommendedBranch string   `json:"recommendedBranch"`
}
