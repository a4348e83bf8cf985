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
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/clawdini/wire"
)

// fakeGateway is an in-process gateway endpoint: it challenges, verifies the
// signed connect request, answers hello-ok and then serves canned RPCs.
type fakeGateway struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	connects []map[string]any

	// duplicateReplies answers every RPC twice with the same frame ID.
	duplicateReplies bool

	handle func(method string, params json.RawMessage) (any, *wire.ErrorDetail)
}

func newFakeGateway(t *testing.T) (*fakeGateway, *httptest.Server) {
	fg := &fakeGateway{t: t}
	srv := httptest.NewServer(http.HandlerFunc(fg.serve))
	t.Cleanup(srv.Close)
	return fg, srv
}

func (fg *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := fg.upgrader.Upgrade(w, r, nil)
	require.NoError(fg.t, err)
	fg.mu.Lock()
	fg.conn = conn
	fg.mu.Unlock()

	fg.send(&wire.Frame{
		Type:    wire.TypeEvent,
		Event:   "connect.challenge",
		Payload: json.RawMessage(`{"nonce":"test-nonce","ts":1}`),
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := wire.Decode(data)
		require.NoError(fg.t, err)
		if !frame.IsRequest() {
			continue
		}

		if frame.Method == "connect" {
			var params map[string]any
			require.NoError(fg.t, json.Unmarshal(frame.Params, &params))
			fg.mu.Lock()
			fg.connects = append(fg.connects, params)
			fg.mu.Unlock()
			fg.respond(frame.ID, map[string]any{
				"type": "hello-ok",
				"server": map[string]any{
					"version": "fake-1.0",
					"connId":  "conn-1",
				},
			}, nil)
			continue
		}

		if fg.handle != nil {
			payload, errDetail := fg.handle(frame.Method, frame.Params)
			fg.respond(frame.ID, payload, errDetail)
		} else {
			fg.respond(frame.ID, map[string]any{}, nil)
		}
		if fg.duplicateReplies {
			fg.respond(frame.ID, map[string]any{}, nil)
		}
	}
}

func (fg *fakeGateway) respond(id string, payload any, errDetail *wire.ErrorDetail) {
	ok := errDetail == nil
	frame := &wire.Frame{Type: wire.TypeResponse, ID: id, OK: &ok, Error: errDetail}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(fg.t, err)
		frame.Payload = raw
	}
	fg.send(frame)
}

func (fg *fakeGateway) emit(event string, payload any) {
	raw, err := json.Marshal(payload)
	require.NoError(fg.t, err)
	fg.send(&wire.Frame{Type: wire.TypeEvent, Event: event, Payload: raw})
}

func (fg *fakeGateway) send(frame *wire.Frame) {
	data, err := wire.Encode(frame)
	require.NoError(fg.t, err)
	fg.mu.Lock()
	defer fg.mu.Unlock()
	require.NoError(fg.t, fg.conn.WriteMessage(websocket.TextMessage, data))
}

func (fg *fakeGateway) lastConnect() map[string]any {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	require.NotEmpty(fg.t, fg.connects)
	return fg.connects[len(fg.connects)-1]
}

func dialFake(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	if cfg.IdentityPath == "" {
		cfg.IdentityPath = filepath.Join(t.TempDir(), "identity.json")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDialHandshakeSignsChallenge(t *testing.T) {
	fg, srv := newFakeGateway(t)
	client := dialFake(t, srv, Config{Token: "secret-token"})

	assert.Equal(t, "fake-1.0", client.Server().Version)
	assert.Equal(t, "conn-1", client.Server().ConnID)

	params := fg.lastConnect()
	assert.EqualValues(t, 3, params["minProtocol"])
	assert.EqualValues(t, 3, params["maxProtocol"])
	assert.Equal(t, "operator", params["role"])

	device, ok := params["device"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "test-nonce", device["nonce"])

	pubRaw, err := base64.RawURLEncoding.DecodeString(device["publicKey"].(string))
	require.NoError(t, err)
	sig, err := base64.RawURLEncoding.DecodeString(device["signature"].(string))
	require.NoError(t, err)

	signedAt := int64(device["signedAt"].(float64))
	clientBlock := params["client"].(map[string]any)
	scopes := params["scopes"].([]any)
	scopeStrs := make([]string, 0, len(scopes))
	for _, s := range scopes {
		scopeStrs = append(scopeStrs, s.(string))
	}
	payload := strings.Join([]string{
		"v2",
		device["id"].(string),
		clientBlock["id"].(string),
		clientBlock["mode"].(string),
		"operator",
		strings.Join(scopeStrs, ","),
		jsonNumber(signedAt),
		"secret-token",
		"test-nonce",
	}, "|")
	assert.True(t, ed25519.Verify(ed25519.PublicKey(pubRaw), []byte(payload), sig))
}

func jsonNumber(v int64) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func TestRequestCorrelation(t *testing.T) {
	fg, srv := newFakeGateway(t)
	fg.handle = func(method string, params json.RawMessage) (any, *wire.ErrorDetail) {
		if method == "models.list" {
			return map[string]any{"models": []map[string]any{
				{"id": "m1", "name": "Model One", "provider": "test"},
			}}, nil
		}
		return nil, &wire.ErrorDetail{Code: "unknown_method", Message: "no such method"}
	}
	client := dialFake(t, srv, Config{})

	ctx := context.Background()
	models, err := client.ModelsList(ctx)
	require.NoError(t, err)
	require.Len(t, models.Models, 1)
	assert.Equal(t, "m1", models.Models[0].ID)

	_, err = client.Request(ctx, "bogus", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such method")
}

func TestEventSubscription(t *testing.T) {
	fg, srv := newFakeGateway(t)
	client := dialFake(t, srv, Config{})

	received := make(chan string, 4)
	off := client.On("chat", func(payload json.RawMessage) {
		ev, err := ParseChatEvent(payload)
		require.NoError(t, err)
		received <- ev.State
	})

	fg.emit("chat", map[string]any{"runId": "r1", "sessionKey": "k", "state": "delta"})
	fg.emit("chat", map[string]any{"runId": "r1", "sessionKey": "k", "state": "final"})

	for _, want := range []string{"delta", "final"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %s event", want)
		}
	}

	// After unsubscribing, further events are not delivered.
	off()
	fg.emit("chat", map[string]any{"runId": "r1", "sessionKey": "k", "state": "delta"})
	select {
	case state := <-received:
		t.Fatalf("unexpected event after unsubscribe: %s", state)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDuplicateResponseDoesNotStallClient(t *testing.T) {
	fg, srv := newFakeGateway(t)
	fg.duplicateReplies = true
	client := dialFake(t, srv, Config{})

	// Every request is answered twice with the same ID; the extra frames
	// must not block the receive loop.
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := client.Request(ctx, "agents.list", nil)
		require.NoError(t, err)
	}

	// Events still flow afterwards, so the receive loop is alive.
	received := make(chan struct{}, 1)
	client.On("chat", func(json.RawMessage) { received <- struct{}{} })
	fg.emit("chat", map[string]any{"runId": "r1", "sessionKey": "k", "state": "delta"})
	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("receive loop stalled after duplicate responses")
	}
}

func TestRequestAfterClose(t *testing.T) {
	_, srv := newFakeGateway(t)
	client := dialFake(t, srv, Config{})

	require.NoError(t, client.Close())
	_, err := client.Request(context.Background(), "agents.list", nil)
	assert.Error(t, err)
}
