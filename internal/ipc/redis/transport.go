// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Package redis implements the ipc transport over Redis pub/sub.
//
// Publishing goes through the regular client. Subscriptions live on a
// dedicated PubSub connection, because a connection in subscribe mode cannot
// issue other commands.
package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/dynohq/dyno/internal/ipc"
)

var _ ipc.Transport = (*Transport)(nil)

// Defaults for Dial.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultBuffer         = 256
)

// Option configures a Transport.
type Option func(*options)

type options struct {
	connectTimeout time.Duration
	buffer         int
	logger         *slog.Logger
}

// WithConnectTimeout bounds how long Dial keeps retrying.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithBuffer sets the inbound message buffer.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Transport is an ipc.Transport backed by Redis.
type Transport struct {
	client *goredis.Client
	pubsub *goredis.PubSub
	logger *slog.Logger

	msgs      chan ipc.Message
	forward   sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the Redis server at uri, retrying with exponential backoff
// until it answers PING or the connect timeout elapses.
func Dial(ctx context.Context, uri string, opts ...Option) (*Transport, error) {
	o := options{
		connectTimeout: DefaultConnectTimeout,
		buffer:         DefaultBuffer,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	redisOpts, err := goredis.ParseURL(uri)
	if err != nil {
		return nil, oops.In("redis").Code("REDIS_INVALID_URI").Hint("expected redis://[user:password@]host:port[/db]").Wrap(err)
	}
	client := goredis.NewClient(redisOpts)

	backoff := retry.WithMaxDuration(o.connectTimeout,
		retry.WithCappedDuration(2*time.Second, retry.NewExponential(100*time.Millisecond)))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			o.logger.Debug("redis not ready", "addr", redisOpts.Addr, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, oops.In("redis").Code("REDIS_CONNECT_FAILED").With("addr", redisOpts.Addr).Wrap(err)
	}

	return New(client, opts...), nil
}

// New wraps an existing client. The transport takes ownership of it.
func New(client *goredis.Client, opts ...Option) *Transport {
	o := options{buffer: DefaultBuffer, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Transport{
		client: client,
		pubsub: client.Subscribe(context.Background()),
		logger: o.logger,
		msgs:   make(chan ipc.Message, o.buffer),
		done:   make(chan struct{}),
	}
}

// Publish implements ipc.Transport.
func (t *Transport) Publish(ctx context.Context, channel string, data []byte) error {
	if err := t.client.Publish(ctx, channel, data).Err(); err != nil {
		return oops.In("redis").With("channel", channel).Wrap(err)
	}
	return nil
}

// Subscribe implements ipc.Transport. The first subscription starts message
// forwarding.
func (t *Transport) Subscribe(ctx context.Context, channels ...string) error {
	if err := t.pubsub.Subscribe(ctx, channels...); err != nil {
		return oops.In("redis").With("channels", channels).Wrap(err)
	}
	t.forward.Do(func() {
		t.wg.Add(1)
		go t.run(t.pubsub.Channel())
	})
	return nil
}

// Unsubscribe implements ipc.Transport.
func (t *Transport) Unsubscribe(ctx context.Context, channels ...string) error {
	if err := t.pubsub.Unsubscribe(ctx, channels...); err != nil {
		return oops.In("redis").With("channels", channels).Wrap(err)
	}
	return nil
}

func (t *Transport) run(in <-chan *goredis.Message) {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case t.msgs <- ipc.Message{Channel: msg.Channel, Data: []byte(msg.Payload)}:
			case <-t.done:
				return
			}
		}
	}
}

// Messages implements ipc.Transport.
func (t *Transport) Messages() <-chan ipc.Message {
	return t.msgs
}

// Close closes the subscription connection and the client.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		psErr := t.pubsub.Close()
		t.wg.Wait()
		close(t.msgs)
		clErr := t.client.Close()
		if psErr != nil {
			t.closeErr = oops.In("redis").Wrap(psErr)
			return
		}
		if clErr != nil {
			t.closeErr = oops.In("redis").Wrap(clErr)
		}
	})
	return t.closeErr
}
