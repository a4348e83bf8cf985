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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextAccumulatorCumulativeDeltas(t *testing.T) {
	var acc TextAccumulator
	assert.Equal(t, "A", acc.Push("A"))
	assert.Equal(t, "B", acc.Push("AB"))
	assert.Equal(t, "C", acc.Push("ABC"))
	assert.Equal(t, "ABC", acc.Text())
}

func TestTextAccumulatorRepeatedFull(t *testing.T) {
	var acc TextAccumulator
	assert.Equal(t, "AB", acc.Push("AB"))
	// The final event often repeats the full text; no new suffix.
	assert.Equal(t, "", acc.Push("AB"))
	assert.Equal(t, "AB", acc.Text())
}

func TestTextAccumulatorNonPrefixRecovery(t *testing.T) {
	var acc TextAccumulator
	acc.Push("Hello wor")
	// Producer re-issued with a correction; emit only the part beyond the
	// previously seen length.
	assert.Equal(t, "rld!", acc.Push("Hello, world!"))
	assert.Equal(t, "Hello, world!", acc.Text())

	// A shorter non-prefix replacement emits nothing but replaces the state.
	assert.Equal(t, "", acc.Push("Hi"))
	assert.Equal(t, "Hi", acc.Text())
}

func TestChatEventTextString(t *testing.T) {
	ev, err := ParseChatEvent(json.RawMessage(
		`{"runId":"r1","sessionKey":"k","state":"delta","message":{"content":"hello"}}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", ev.Text())
}

func TestChatEventTextBlocks(t *testing.T) {
	ev, err := ParseChatEvent(json.RawMessage(`{
		"runId":"r1","sessionKey":"k","state":"final",
		"message":{"content":[
			{"type":"text","text":"part one "},
			{"type":"image","url":"ignored"},
			{"type":"text","text":"part two"}
		]}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "part one part two", ev.Text())
}

func TestChatEventTextFallback(t *testing.T) {
	ev, err := ParseChatEvent(json.RawMessage(
		`{"runId":"r1","sessionKey":"k","state":"final","message":{"text":"fallback"}}`))
	require.NoError(t, err)
	assert.Equal(t, "fallback", ev.Text())

	empty, err := ParseChatEvent(json.RawMessage(`{"runId":"r1","state":"delta"}`))
	require.NoError(t, err)
	assert.Equal(t, "", empty.Text())
}
