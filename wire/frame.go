//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

// Package wire implements the framed JSON codec spoken on the gateway transport.
// Three frame shapes share the wire: requests, responses and events. Frames with
// an unknown type tag are preserved by the codec and skipped by consumers so
// that newer gateways remain compatible with older clients.
package wire

import (
	"encoding/json"
	"fmt"
)

// Frame type tags.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// ErrorDetail carries a server-side error attached to a response frame.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ErrorDetail) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Frame is the single wire format for gateway messages.
// The Type field discriminates which of the optional fields are meaningful.
type Frame struct {
	Type string `json:"type"`

	// Request and response correlation.
	ID string `json:"id,omitempty"`

	// Request fields.
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields.
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`

	// Event fields. Seq is informational only and used for logging.
	Event string `json:"event,omitempty"`
	Seq   *int64 `json:"seq,omitempty"`
}

// IsRequest reports whether the frame is a request frame.
func (f *Frame) IsRequest() bool { return f.Type == TypeRequest }

// IsResponse reports whether the frame is a response frame.
func (f *Frame) IsResponse() bool { return f.Type == TypeResponse }

// IsEvent reports whether the frame is an event frame.
func (f *Frame) IsEvent() bool { return f.Type == TypeEvent }

// Succeeded reports whether a response frame carries ok=true.
func (f *Frame) Succeeded() bool { return f.OK != nil && *f.OK }

// NewRequest builds a request frame. Params may be any JSON-encodable value;
// a nil params produces a frame without the params field.
func NewRequest(id, method string, params any) (*Frame, error) {
	f := &Frame{Type: TypeRequest, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode request params: %w", err)
		}
		f.Params = raw
	}
	return f, nil
}

// NewResponse builds a response frame echoing the request ID.
func NewResponse(id string, ok bool, payload any, errDetail *ErrorDetail) (*Frame, error) {
	f := &Frame{Type: TypeResponse, ID: id, OK: &ok, Error: errDetail}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode response payload: %w", err)
		}
		f.Payload = raw
	}
	return f, nil
}

// NewEvent builds an event frame.
func NewEvent(event string, payload any) (*Frame, error) {
	f := &Frame{Type: TypeEvent, Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode event payload: %w", err)
		}
		f.Payload = raw
	}
	return f, nil
}

// Encode serializes a frame to its JSON wire form.
func Encode(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Decode parses a JSON wire message into a frame. A frame with an empty type
// tag is rejected; unknown type tags decode successfully and are left for the
// consumer to skip.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type tag")
	}
	return &f, nil
}
