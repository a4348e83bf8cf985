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
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Chat event states.
const (
	ChatStateDelta   = "delta"
	ChatStateFinal   = "final"
	ChatStateError   = "error"
	ChatStateAborted = "aborted"
)

// ChatEvent is the payload of the gateway's "chat" event.
//
// Text fields delivered with delta and final states are cumulative: each
// event carries the full message content so far, not an increment. Use
// TextAccumulator to turn them into suffixes.
type ChatEvent struct {
	RunID        string          `json:"runId"`
	SessionKey   string          `json:"sessionKey"`
	State        string          `json:"state"`
	Message      json.RawMessage `json:"message,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// ParseChatEvent decodes a chat event payload.
func ParseChatEvent(payload json.RawMessage) (*ChatEvent, error) {
	var ev ChatEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Text extracts the message text. Content may be a plain string, a list of
// content blocks (non-text blocks ignored), or absent with message.text
// carrying the string.
func (e *ChatEvent) Text() string {
	if len(e.Message) == 0 {
		return ""
	}
	content := gjson.GetBytes(e.Message, "content")
	switch {
	case content.Type == gjson.String:
		return content.String()
	case content.IsArray():
		var b strings.Builder
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				b.WriteString(block.Get("text").String())
			}
			return true
		})
		return b.String()
	}
	return gjson.GetBytes(e.Message, "text").String()
}

// TextAccumulator tracks the cumulative text of a chat stream and computes the
// incremental suffix of each event. When a producer re-issues text that is not
// an extension of what was already seen (rare), the accumulated text is
// replaced and only the portion beyond the previously seen length is emitted.
type TextAccumulator struct {
	seen string
}

// Push records the cumulative text of a delta or final event and returns the
// newly appeared suffix.
func (a *TextAccumulator) Push(full string) string {
	prev := a.seen
	a.seen = full
	if strings.HasPrefix(full, prev) {
		return full[len(prev):]
	}
	if len(full) > len(prev) {
		return full[len(prev):]
	}
	return ""
}

// Text returns the full text accumulated so far.
func (a *TextAccumulator) Text() string {
	return a.seen
}
