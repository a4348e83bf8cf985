//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req, err := NewRequest("r-1", "chat.send", map[string]any{
		"sessionKey": "agent:main:clawdini:run:node",
		"message":    "hello",
	})
	require.NoError(t, err)

	data, err := Encode(req)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
	assert.True(t, decoded.IsRequest())
	assert.Equal(t, "chat.send", decoded.Method)
}

func TestResponseRoundTrip(t *testing.T) {
	res, err := NewResponse("r-1", true, map[string]any{"runId": "abc"}, nil)
	require.NoError(t, err)

	data, err := Encode(res)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, res, decoded)
	assert.True(t, decoded.IsResponse())
	assert.True(t, decoded.Succeeded())
}

func TestErrorResponse(t *testing.T) {
	res, err := NewResponse("r-2", false, nil, &ErrorDetail{Code: "missing_scope", Message: "scope operator.write required"})
	require.NoError(t, err)

	data, err := Encode(res)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.False(t, decoded.Succeeded())
	require.NotNil(t, decoded.Error)
	assert.Equal(t, "missing_scope", decoded.Error.Code)
	assert.Equal(t, "missing_scope: scope operator.write required", decoded.Error.Error())
}

func TestEventRoundTrip(t *testing.T) {
	evt, err := NewEvent("chat", map[string]any{"state": "delta"})
	require.NoError(t, err)

	data, err := Encode(evt)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, evt, decoded)
	assert.True(t, decoded.IsEvent())
	assert.Equal(t, "chat", decoded.Event)
}

func TestDecodeUnknownType(t *testing.T) {
	decoded, err := Decode([]byte(`{"type":"ping","payload":{"ts":1}}`))
	require.NoError(t, err)
	assert.Equal(t, "ping", decoded.Type)
	assert.False(t, decoded.IsRequest())
	assert.False(t, decoded.IsResponse())
	assert.False(t, decoded.IsEvent())
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"id":"r-1"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}
