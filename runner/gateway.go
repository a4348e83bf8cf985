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

	"trpc.group/trpc-go/clawdini/gateway"
)

// Gateway is the slice of the gateway client the runner depends on. The
// production implementation is *gateway.Client; tests substitute a fake.
type Gateway interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	SessionsReset(ctx context.Context, sessionKey string) error
	SessionsPatch(ctx context.Context, sessionKey string, patch map[string]any) error
	ChatSend(ctx context.Context, sessionKey, message string, opts gateway.ChatSendOptions) (string, error)
	ChatAbort(ctx context.Context, sessionKey, runID string) error
	On(event string, handler gateway.EventHandler) func()
}

// Session purposes used in session keys. One session per node per purpose, so
// concurrent nodes in the same run never interleave outputs and resetting one
// node's session cannot disturb another.
const (
	purposeChat    = "clawdini"
	purposeMerge   = "merge"
	purposeJudge   = "judge"
	purposeExtract = "extract"
)

// sessionKey builds the structured session key naming a chat context.
func sessionKey(agentID, purpose, runID, nodeID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", agentID, purpose, runID, nodeID)
}
