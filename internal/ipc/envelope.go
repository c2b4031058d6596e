// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package ipc

import (
	"encoding/json"

	"github.com/samber/oops"
)

// Kind tags an envelope on the wire.
type Kind string

// Envelope kinds.
const (
	KindBroadcast Kind = "broadcast"
	KindRequest   Kind = "request"
	KindResponse  Kind = "response"
)

// Envelope is the unit carried on every channel.
//
// Broadcast uses Topic and Payload. Request adds ID and ReplyTo. Response
// carries ID and Response only.
type Envelope struct {
	Kind     Kind            `json:"kind"`
	ID       string          `json:"id,omitempty"`
	Topic    string          `json:"topic,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	ReplyTo  string          `json:"reply_to,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Encode serializes the envelope.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, oops.In("ipc").Code(CodeEncode).With("kind", string(e.Kind)).Wrap(err)
	}
	return data, nil
}

// Decode parses and checks an envelope read from the transport.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, oops.In("ipc").Code(CodeMalformed).Wrap(err)
	}
	switch e.Kind {
	case KindBroadcast, KindRequest:
	case KindResponse:
		if e.ID == "" {
			return Envelope{}, oops.In("ipc").Code(CodeMalformed).Errorf("response without id")
		}
	default:
		return Envelope{}, oops.In("ipc").Code(CodeMalformed).With("kind", string(e.Kind)).Errorf("unknown envelope kind %q", e.Kind)
	}
	return e, nil
}

// marshalPayload turns a caller value into raw JSON. Raw messages pass through.
func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case json.RawMessage:
		if p == nil {
			return json.RawMessage("null"), nil
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, oops.In("ipc").Code(CodeEncode).Errorf("payload bytes are not valid JSON")
		}
		return p, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, oops.In("ipc").Code(CodeEncode).Wrap(err)
	}
	return data, nil
}
