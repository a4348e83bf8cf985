//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// AgentInfo describes a single agent hosted by the gateway.
type AgentInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Identity string `json:"identity,omitempty"`
}

// AgentsInfo is the agents.list response payload.
type AgentsInfo struct {
	DefaultID string      `json:"defaultId"`
	MainKey   string      `json:"mainKey"`
	Agents    []AgentInfo `json:"agents"`
}

// ModelInfo describes a single model advertised by the gateway.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// ModelsInfo is the models.list response payload.
type ModelsInfo struct {
	Models []ModelInfo `json:"models"`
}

// ChatSendOptions tunes a chat.send call.
type ChatSendOptions struct {
	// IdempotencyKey lets the gateway deduplicate retried sends; the same key
	// yields the same chat run ID.
	IdempotencyKey string
	// TimeoutMs is the server-side generation budget in milliseconds.
	TimeoutMs int64
	// ModelID optionally pins the model for this send.
	ModelID string
}

// AgentsList fetches the agent roster.
func (c *Client) AgentsList(ctx context.Context) (*AgentsInfo, error) {
	payload, err := c.Request(ctx, "agents.list", nil)
	if err != nil {
		return nil, err
	}
	var info AgentsInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("agents.list: parse payload: %w", err)
	}
	return &info, nil
}

// ModelsList fetches the model roster.
func (c *Client) ModelsList(ctx context.Context) (*ModelsInfo, error) {
	payload, err := c.Request(ctx, "models.list", nil)
	if err != nil {
		return nil, err
	}
	var info ModelsInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("models.list: parse payload: %w", err)
	}
	return &info, nil
}

// SessionsReset clears the named chat session. Resetting a session that does
// not exist yet is an error on some gateways; callers typically log and ignore.
func (c *Client) SessionsReset(ctx context.Context, sessionKey string) error {
	_, err := c.Request(ctx, "sessions.reset", map[string]any{"sessionKey": sessionKey})
	return err
}

// SessionsPatch updates session settings, e.g. {"model": modelID}.
func (c *Client) SessionsPatch(ctx context.Context, sessionKey string, patch map[string]any) error {
	params := map[string]any{"sessionKey": sessionKey}
	for k, v := range patch {
		params[k] = v
	}
	_, err := c.Request(ctx, "sessions.patch", params)
	return err
}

// ChatSend submits a message to the session and returns the gateway's chat run
// ID. The chat run ID is distinct from any orchestrator run ID; it names the
// generation on the gateway side and is what chat.abort expects.
func (c *Client) ChatSend(ctx context.Context, sessionKey, message string, opts ChatSendOptions) (string, error) {
	params := map[string]any{
		"sessionKey": sessionKey,
		"message":    message,
	}
	if opts.IdempotencyKey != "" {
		params["idempotencyKey"] = opts.IdempotencyKey
	}
	if opts.TimeoutMs > 0 {
		params["timeoutMs"] = opts.TimeoutMs
	}
	if opts.ModelID != "" {
		params["modelId"] = opts.ModelID
	}

	payload, err := c.Request(ctx, "chat.send", params)
	if err != nil {
		return "", err
	}
	var res struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return "", fmt.Errorf("chat.send: parse payload: %w", err)
	}
	return res.RunID, nil
}

// ChatAbort stops a running generation. An empty runID aborts whatever is
// active on the session.
func (c *Client) ChatAbort(ctx context.Context, sessionKey, runID string) error {
	params := map[string]any{"sessionKey": sessionKey}
	if runID != "" {
		params["runId"] = runID
	}
	_, err := c.Request(ctx, "chat.abort", params)
	return err
}
