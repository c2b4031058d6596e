// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package ipc

import (
	"errors"
	"time"

	"github.com/samber/oops"
)

// Error codes for messaging failures.
const (
	CodeRequestTimeout = "IPC_REQUEST_TIMEOUT"
	CodeClosed         = "IPC_CLOSED"
	CodeNotStarted     = "IPC_NOT_STARTED"
	CodeMalformed      = "IPC_MALFORMED_ENVELOPE"
	CodeEncode         = "IPC_ENCODE_FAILED"
	CodeDecode         = "IPC_DECODE_FAILED"
	CodeTransport      = "IPC_TRANSPORT_FAILED"
)

// Sentinel errors.
var (
	ErrRequestTimeout = errors.New("IPC request timeout")
	ErrClosed         = errors.New("IPC manager closed")
	ErrNotStarted     = errors.New("IPC manager not started")
)

func requestTimeout(topic, id string, timeout time.Duration) error {
	return oops.In("ipc").
		Code(CodeRequestTimeout).
		With("topic", topic).
		With("request_id", id).
		With("timeout", timeout.String()).
		Hint("no replica answered; check that a handler is registered for the topic").
		Wrap(ErrRequestTimeout)
}

func closed() error {
	return oops.In("ipc").Code(CodeClosed).Wrap(ErrClosed)
}
