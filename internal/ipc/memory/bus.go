// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Package memory provides an in-process publish/subscribe bus. Each Transport
// behaves like one process's connection to a shared broker, which makes it
// suitable for single-node deployments and for tests.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/dynohq/dyno/internal/ipc"
)

// DefaultBuffer is the per-transport message buffer.
const DefaultBuffer = 256

// ErrClosed is returned by a closed transport.
var ErrClosed = errors.New("memory transport closed")

var _ ipc.Transport = (*Transport)(nil)

// Bus distributes messages to every transport subscribed to a channel.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[*Transport]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*Transport]struct{})}
}

// Transport returns a new connection to the bus.
func (b *Bus) Transport(opts ...Option) *Transport {
	t := &Transport{
		bus:    b,
		buffer: DefaultBuffer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.msgs = make(chan ipc.Message, t.buffer)
	return t
}

func (b *Bus) subscribe(t *Transport, channels []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range channels {
		set, ok := b.subs[ch]
		if !ok {
			set = make(map[*Transport]struct{})
			b.subs[ch] = set
		}
		set[t] = struct{}{}
	}
}

func (b *Bus) unsubscribe(t *Transport, channels []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range channels {
		set := b.subs[ch]
		delete(set, t)
		if len(set) == 0 {
			delete(b.subs, ch)
		}
	}
}

func (b *Bus) detach(t *Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, set := range b.subs {
		delete(set, t)
		if len(set) == 0 {
			delete(b.subs, ch)
		}
	}
}

// publish returns how many transports received the message.
func (b *Bus) publish(channel string, data []byte) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for t := range b.subs[channel] {
		if t.deliver(ipc.Message{Channel: channel, Data: data}) {
			n++
		}
	}
	return n
}

// Subscribers returns how many transports are subscribed to channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Option configures a Transport.
type Option func(*Transport)

// WithBuffer sets the message buffer size.
func WithBuffer(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.buffer = n
		}
	}
}

// WithLogger sets the logger used for dropped messages.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// Transport is one connection to a Bus.
type Transport struct {
	bus    *Bus
	buffer int
	logger *slog.Logger

	mu     sync.Mutex
	msgs   chan ipc.Message
	closed bool
}

func (t *Transport) deliver(msg ipc.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	select {
	case t.msgs <- msg:
		return true
	default:
		// Pub/sub is best effort; a slow reader loses messages.
		t.logger.Warn("message dropped: subscriber buffer full", "channel", msg.Channel)
		return false
	}
}

// Publish implements ipc.Transport.
func (t *Transport) Publish(_ context.Context, channel string, data []byte) error {
	if t.isClosed() {
		return oops.In("memory").With("channel", channel).Wrap(ErrClosed)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	t.bus.publish(channel, buf)
	return nil
}

// Subscribe implements ipc.Transport.
func (t *Transport) Subscribe(_ context.Context, channels ...string) error {
	if t.isClosed() {
		return oops.In("memory").Wrap(ErrClosed)
	}
	t.bus.subscribe(t, channels)
	return nil
}

// Unsubscribe implements ipc.Transport.
func (t *Transport) Unsubscribe(_ context.Context, channels ...string) error {
	t.bus.unsubscribe(t, channels)
	return nil
}

// Messages implements ipc.Transport.
func (t *Transport) Messages() <-chan ipc.Message {
	return t.msgs
}

// Close detaches from the bus and closes the message stream.
func (t *Transport) Close() error {
	t.bus.detach(t)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.msgs)
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
