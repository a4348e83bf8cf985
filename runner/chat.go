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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/clawdini/gateway"
	"trpc.group/trpc-go/clawdini/graph"
	"trpc.group/trpc-go/clawdini/log"
)

const thinkingPreviewLen = 80

// chatRequest describes one streamed chat call made on behalf of a node.
type chatRequest struct {
	nodeID     string
	sessionKey string
	modelID    string
	prompt     string
	// allowPartial returns the text observed so far when the hard timeout
	// fires instead of failing; only a timeout with zero output is fatal.
	allowPartial bool
}

// streamChat runs the shared reset/patch/send/wait protocol: reset the
// session (errors logged and ignored), optionally pin the model, subscribe to
// chat events filtered by session key, send the prompt, then forward
// cumulative-text suffixes as nodeDelta events until final, error, aborted or
// the hard timeout.
func (r *Runner) streamChat(ctx context.Context, req chatRequest) (string, error) {
	if err := r.gw.SessionsReset(ctx, req.sessionKey); err != nil {
		// A nonexistent session is expected on first use.
		log.Debugf("run %s: sessions.reset %s: %v", r.id, req.sessionKey, err)
	}
	if req.modelID != "" {
		if err := r.gw.SessionsPatch(ctx, req.sessionKey, map[string]any{"model": req.modelID}); err != nil {
			return "", fmt.Errorf("pin model %s: %w", req.modelID, err)
		}
	}

	events := make(chan *gateway.ChatEvent, 256)
	drained := make(chan struct{})
	defer close(drained)

	off := r.gw.On("chat", func(payload json.RawMessage) {
		ev, err := gateway.ParseChatEvent(payload)
		if err != nil {
			log.Debugf("run %s: malformed chat event: %v", r.id, err)
			return
		}
		if ev.SessionKey != req.sessionKey {
			return
		}
		if ev.State == gateway.ChatStateDelta {
			// Deltas are cumulative; dropping one under backpressure loses
			// nothing, the next delta carries the full text again.
			select {
			case events <- ev:
			default:
			}
			return
		}
		select {
		case events <- ev:
		case <-drained:
		}
	})
	defer off()

	chatRunID, err := r.gw.ChatSend(ctx, req.sessionKey, req.prompt, gateway.ChatSendOptions{
		IdempotencyKey: uuid.NewString(),
		TimeoutMs:      r.chatTimeout.Milliseconds(),
	})
	if err != nil {
		return "", err
	}
	r.trackChat(req.nodeID, req.sessionKey, chatRunID)
	defer r.untrackChat(req.nodeID)

	var acc gateway.TextAccumulator
	timer := time.NewTimer(r.chatTimeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-events:
			switch ev.State {
			case gateway.ChatStateDelta:
				r.emitSuffix(req.nodeID, &acc, ev.Text())
			case gateway.ChatStateFinal:
				if text := ev.Text(); text != "" {
					r.emitSuffix(req.nodeID, &acc, text)
				}
				return acc.Text(), nil
			case gateway.ChatStateError:
				msg := ev.ErrorMessage
				if msg == "" {
					msg = "chat failed"
				}
				return "", errors.New(msg)
			case gateway.ChatStateAborted:
				return "", errors.New("chat aborted")
			}
		case <-timer.C:
			if req.allowPartial && acc.Text() != "" {
				log.Warnf("run %s: node %s chat timed out, returning partial output", r.id, req.nodeID)
				return acc.Text(), nil
			}
			return "", fmt.Errorf("chat timed out after %s", r.chatTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// emitSuffix pushes cumulative text through the accumulator and emits the new
// suffix as a nodeDelta plus a short thinking preview.
func (r *Runner) emitSuffix(nodeID string, acc *gateway.TextAccumulator, full string) {
	suffix := acc.Push(full)
	if suffix == "" {
		return
	}
	data := graph.NewPayload(suffix)
	r.sink.Emit(Event{Type: EventNodeDelta, NodeID: nodeID, Data: &data})
	r.sink.Emit(Event{Type: EventThinking, NodeID: nodeID, Content: preview(acc.Text())})
}

// preview returns the tail of the accumulated text, rune-safe.
func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= thinkingPreviewLen {
		return s
	}
	return "…" + string(runes[len(runes)-thinkingPreviewLen:])
}
