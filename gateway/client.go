//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

// Package gateway implements the client side of the agent gateway session
// protocol: a persistent full-duplex connection carrying framed JSON requests,
// responses and events, opened with a challenge-response handshake signed by a
// persistent Ed25519 device identity.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"trpc.group/trpc-go/clawdini/internal/metrics"
	"trpc.group/trpc-go/clawdini/log"
	"trpc.group/trpc-go/clawdini/wire"
)

// Protocol constants.
const (
	protocolMin = 3
	protocolMax = 3

	defaultClientID   = "clawdini"
	defaultClientMode = "backend"
	defaultRole       = "operator"

	challengeWait    = 5 * time.Second
	handshakeTimeout = 10 * time.Second
	// DefaultRequestTimeout bounds a single correlated RPC.
	DefaultRequestTimeout = 30 * time.Second

	eventQueueSize = 256
)

var defaultScopes = []string{"operator.read", "operator.write"}

// ErrClosed is returned for calls made after the connection dropped.
var ErrClosed = errors.New("gateway: connection closed")

// Config holds connection parameters for Dial.
type Config struct {
	// URL is the websocket endpoint of the gateway.
	URL string
	// Token is the optional shared-secret auth token.
	Token string
	// IdentityPath is the device identity file location.
	IdentityPath string
	// ClientID and ClientMode identify this client in the connect frame.
	// Empty values fall back to the clawdini defaults.
	ClientID   string
	ClientMode string
	// Scopes requested at connect time. Empty falls back to operator scopes.
	Scopes []string
	// RequestTimeout bounds each correlated RPC. Zero means the default.
	RequestTimeout time.Duration
}

// EventHandler receives the payload of a subscribed event frame.
type EventHandler func(payload json.RawMessage)

type subscription struct {
	id      uint64
	handler EventHandler
}

// Client is the persistent gateway connection. It serializes writes, routes
// response frames to pending request slots and dispatches event frames to
// subscribers on a dedicated worker so the receive loop never blocks.
type Client struct {
	conn     *websocket.Conn
	identity *DeviceIdentity

	cfg Config

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan *wire.Frame
	subs     map[string][]subscription
	closed   bool
	closeErr error

	nextReqID atomic.Int64
	nextSubID atomic.Uint64

	challenge chan *wire.Frame
	events    chan *wire.Frame
	done      chan struct{}

	// Server hello payload captured during the handshake.
	server HelloServer
}

// HelloServer is the server block of the hello-ok payload.
type HelloServer struct {
	Version  string `json:"version"`
	ConnID   string `json:"connId"`
	Features struct {
		Methods []string `json:"methods"`
		Events  []string `json:"events"`
	} `json:"features"`
}

// Dial opens the transport, performs the authenticated handshake and returns a
// ready client. Reconnect is the caller's concern: once the transport drops,
// pending and future calls fail with ErrClosed.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	identity, err := LoadOrCreateIdentity(cfg.IdentityPath)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway dial %s: %w", cfg.URL, err)
	}

	c := &Client{
		conn:      conn,
		identity:  identity,
		cfg:       cfg,
		pending:   make(map[string]chan *wire.Frame),
		subs:      make(map[string][]subscription),
		challenge: make(chan *wire.Frame, 1),
		events:    make(chan *wire.Frame, eventQueueSize),
		done:      make(chan struct{}),
	}

	// The read pump must run before the handshake so the challenge event and
	// the connect response can be received.
	go c.readPump()
	go c.dispatchLoop()

	if err := c.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Server returns the server block received in hello-ok.
func (c *Client) Server() HelloServer {
	return c.server
}

// Close tears down the transport. Pending requests fail with ErrClosed.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return c.conn.Close()
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = cause
	c.mu.Unlock()
	close(c.done)
}

// handshake waits briefly for a connect.challenge event, then sends the signed
// connect request and waits for hello-ok.
func (c *Client) handshake(ctx context.Context) error {
	var nonce string
	select {
	case frame := <-c.challenge:
		var payload struct {
			Nonce string `json:"nonce"`
			TS    int64  `json:"ts"`
		}
		if err := json.Unmarshal(frame.Payload, &payload); err == nil {
			nonce = payload.Nonce
		}
	case <-time.After(challengeWait):
		// Older gateways do not challenge; proceed without a nonce.
	case <-c.done:
		return fmt.Errorf("gateway handshake: %w", c.closeErr)
	case <-ctx.Done():
		return ctx.Err()
	}

	params := c.connectParams(nonce)

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	res, err := c.call(hctx, "connect", params)
	if err != nil {
		return fmt.Errorf("gateway handshake: %w", err)
	}

	var hello struct {
		Type   string      `json:"type"`
		Server HelloServer `json:"server"`
	}
	if err := json.Unmarshal(res, &hello); err != nil {
		return fmt.Errorf("gateway handshake: parse hello: %w", err)
	}
	if hello.Type != "hello-ok" {
		return fmt.Errorf("gateway handshake: unexpected payload type %q", hello.Type)
	}
	c.server = hello.Server
	log.Infof("gateway connected: server=%s conn=%s", hello.Server.Version, hello.Server.ConnID)
	return nil
}

// connectParams builds the connect request, signing the pipe-joined payload
// with the device key. The v2 form is used when the gateway issued a nonce.
func (c *Client) connectParams(nonce string) map[string]any {
	clientID := c.cfg.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	clientMode := c.cfg.ClientMode
	if clientMode == "" {
		clientMode = defaultClientMode
	}
	scopes := c.cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	signedAt := time.Now().UnixMilli()
	version := "v1"
	if nonce != "" {
		version = "v2"
	}

	parts := []string{
		version,
		c.identity.DeviceID,
		clientID,
		clientMode,
		defaultRole,
		strings.Join(scopes, ","),
		fmt.Sprintf("%d", signedAt),
		c.cfg.Token,
	}
	if nonce != "" {
		parts = append(parts, nonce)
	}
	signature := base64.RawURLEncoding.EncodeToString(c.identity.Sign([]byte(strings.Join(parts, "|"))))

	device := map[string]any{
		"id":        c.identity.DeviceID,
		"publicKey": c.identity.PublicKeyBase64(),
		"signature": signature,
		"signedAt":  signedAt,
	}
	if nonce != "" {
		device["nonce"] = nonce
	}

	params := map[string]any{
		"minProtocol": protocolMin,
		"maxProtocol": protocolMax,
		"client": map[string]any{
			"id":       clientID,
			"mode":     clientMode,
			"version":  Version,
			"platform": "linux",
		},
		"role":      defaultRole,
		"scopes":    scopes,
		"locale":    "en-US",
		"userAgent": "clawdini/" + Version,
		"device":    device,
	}
	if c.cfg.Token != "" {
		params["auth"] = map[string]any{"token": c.cfg.Token}
	}
	return params
}

// Request performs a correlated RPC: it allocates a fresh request ID, sends
// the frame and resolves when the matching response arrives or the per-request
// timeout elapses. An ok=false response surfaces the server error verbatim.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	timeout := c.cfg.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.call(rctx, method, params)
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		metrics.GatewayRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	id := fmt.Sprintf("c-%d", c.nextReqID.Add(1))

	frame, err := wire.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *wire.Frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.closeErr
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		if !res.Succeeded() {
			if res.Error != nil {
				return nil, fmt.Errorf("gateway %s: %w", method, res.Error)
			}
			return nil, fmt.Errorf("gateway %s: request failed", method)
		}
		return res.Payload, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("gateway %s: %w", method, ctx.Err())
	case <-c.done:
		return nil, c.closeErr
	}
}

// writeFrame serializes a frame onto the transport. Writes from concurrent
// callers share a single send lane.
func (c *Client) writeFrame(frame *wire.Frame) error {
	data, err := wire.Encode(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("gateway write: %w", err)
	}
	return nil
}

// On subscribes handler to the named event and returns the unsubscribe
// function. Handlers run on the client's dispatch worker, never on the
// receive loop.
func (c *Client) On(event string, handler EventHandler) func() {
	id := c.nextSubID.Add(1)
	c.mu.Lock()
	c.subs[event] = append(c.subs[event], subscription{id: id, handler: handler})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		entries := c.subs[event]
		for i, entry := range entries {
			if entry.id == id {
				c.subs[event] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// readPump is the single receive loop. It routes response frames to pending
// request slots and queues event frames for the dispatch worker. Malformed
// frames are logged and ignored.
func (c *Client) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		frame, err := wire.Decode(data)
		if err != nil {
			log.Debugf("gateway: dropping malformed frame: %v", err)
			continue
		}

		switch {
		case frame.IsResponse():
			c.mu.Lock()
			ch, ok := c.pending[frame.ID]
			c.mu.Unlock()
			if !ok {
				log.Debugf("gateway: dropping response for unknown request %s", frame.ID)
				continue
			}
			// The slot holds one frame; a duplicate response must never
			// stall the read loop.
			select {
			case ch <- frame:
			default:
				log.Debugf("gateway: dropping duplicate response for request %s", frame.ID)
			}
		case frame.IsEvent() && frame.Event == "connect.challenge":
			select {
			case c.challenge <- frame:
			default:
			}
		case frame.IsEvent():
			select {
			case c.events <- frame:
			default:
				log.Warnf("gateway: event queue full, dropping %s", frame.Event)
			}
		default:
			// Unknown frame types are ignored for forward compatibility.
		}
	}
}

// dispatchLoop invokes event subscribers off the receive loop.
func (c *Client) dispatchLoop() {
	for {
		select {
		case frame := <-c.events:
			c.mu.Lock()
			entries := make([]subscription, len(c.subs[frame.Event]))
			copy(entries, c.subs[frame.Event])
			c.mu.Unlock()
			for _, entry := range entries {
				entry.handler(frame.Payload)
			}
		case <-c.done:
			return
		}
	}
}
