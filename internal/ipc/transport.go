// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package ipc

import "context"

// Message is a payload received on a subscribed channel.
type Message struct {
	Channel string
	Data    []byte
}

// Transport is a best-effort publish/subscribe connection.
//
// Messages returns the single stream of everything received on subscribed
// channels. Implementations close it when the transport is closed.
type Transport interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Messages() <-chan Message
	Close() error
}
