// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Package ipc turns a publish/subscribe transport into broadcast messaging
// and correlated request/response calls between processes.
//
// Every process runs one Manager. A request is published on the topic's
// channel together with a private reply channel; whichever process has a
// handler for the topic answers on that reply channel.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dynohq/dyno/internal/observability"
	"github.com/dynohq/dyno/pkg/errutil"
)

// Defaults.
const (
	DefaultPrefix  = "dyno:ipc:"
	DefaultTimeout = 5 * time.Second

	broadcastTopic = "broadcast"
	replyTopic     = "reply:"
)

// Meta describes the message a handler is answering.
type Meta struct {
	ID      string
	ReplyTo string
	Channel string
	Topic   string
}

// Handler answers requests and broadcasts on one topic. The returned value is
// sent back to a requester; errors are logged and no reply is sent.
type Handler func(ctx context.Context, payload json.RawMessage, meta Meta) (any, error)

// Manager is the per-process messaging endpoint.
type Manager struct {
	transport Transport
	prefix    string
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]chan Envelope
	started  bool
	drained  bool
	closed   bool

	// onMu serializes handler installation with channel subscription.
	onMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithPrefix sets the channel prefix shared by all cooperating processes.
func WithPrefix(prefix string) Option {
	return func(m *Manager) {
		m.prefix = prefix
	}
}

// WithTimeout sets the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics records request outcomes and dropped messages.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTracer overrides the default otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// NewManager creates a Manager over transport. The manager owns the transport
// and closes it on Close.
func NewManager(transport Transport, opts ...Option) *Manager {
	m := &Manager{
		transport: transport,
		prefix:    DefaultPrefix,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
		tracer:    otel.Tracer("dyno/ipc"),
		handlers:  make(map[string]Handler),
		pending:   make(map[string]chan Envelope),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Prefix returns the channel prefix.
func (m *Manager) Prefix() string {
	return m.prefix
}

func (m *Manager) channel(topic string) string {
	return m.prefix + topic
}

// Start subscribes the broadcast channel and starts the dispatch loop. The
// loop runs until ctx is cancelled, Close is called or the transport closes.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return closed()
	}
	if m.started {
		m.mu.Unlock()
		return oops.In("ipc").Errorf("manager already started")
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	if err := m.transport.Subscribe(ctx, m.channel(broadcastTopic)); err != nil {
		m.mu.Lock()
		m.started = false
		m.cancel()
		m.mu.Unlock()
		return oops.In("ipc").Code(CodeTransport).With("channel", m.channel(broadcastTopic)).Wrap(err)
	}

	m.wg.Add(1)
	go m.loop(m.ctx)

	m.logger.Debug("ipc manager started", "prefix", m.prefix)
	return nil
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	msgs := m.transport.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				m.logger.Debug("ipc transport stream closed")
				m.mu.Lock()
				m.drained = true
				m.mu.Unlock()
				return
			}
			m.dispatch(ctx, msg)
		}
	}
}

// dispatch never returns an error: one bad message must not stop the loop.
func (m *Manager) dispatch(ctx context.Context, msg Message) {
	env, err := Decode(msg.Data)
	if err != nil {
		m.metrics.RecordMalformed()
		errutil.Log(ctx, m.logger, slog.LevelWarn, "dropping malformed ipc message", err, "channel", msg.Channel)
		return
	}

	if env.Kind == KindResponse {
		m.settle(env)
		return
	}

	m.mu.Lock()
	h, ok := m.handlers[msg.Channel]
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("no ipc handler for channel", "channel", msg.Channel, "kind", string(env.Kind))
		return
	}

	m.wg.Add(1)
	go m.handle(ctx, h, msg.Channel, env)
}

func (m *Manager) settle(env Envelope) {
	m.mu.Lock()
	ch, ok := m.pending[env.ID]
	if ok {
		delete(m.pending, env.ID)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("dropping ipc response with no pending request", "request_id", env.ID)
		return
	}
	ch <- env
}

func (m *Manager) handle(ctx context.Context, h Handler, channel string, env Envelope) {
	defer m.wg.Done()

	meta := Meta{
		ID:      env.ID,
		ReplyTo: env.ReplyTo,
		Channel: channel,
		Topic:   env.Topic,
	}
	res, err := invoke(ctx, h, env.Payload, meta)
	if err != nil {
		m.metrics.RecordHandlerFailure()
		errutil.Log(ctx, m.logger, slog.LevelError, "ipc handler failed", err,
			"channel", channel, "request_id", env.ID)
		return
	}

	if env.Kind != KindRequest || env.ID == "" || env.ReplyTo == "" {
		return
	}

	body, err := marshalPayload(res)
	if err != nil {
		m.metrics.RecordHandlerFailure()
		errutil.Log(ctx, m.logger, slog.LevelError, "ipc handler returned unencodable response", err,
			"channel", channel, "request_id", env.ID)
		return
	}
	data, err := Envelope{Kind: KindResponse, ID: env.ID, Response: body}.Encode()
	if err != nil {
		errutil.Log(ctx, m.logger, slog.LevelError, "ipc response encode failed", err, "request_id", env.ID)
		return
	}
	if err := m.transport.Publish(ctx, env.ReplyTo, data); err != nil {
		errutil.Log(ctx, m.logger, slog.LevelError, "ipc response publish failed", err,
			"reply_to", env.ReplyTo, "request_id", env.ID)
	}
}

func invoke(ctx context.Context, h Handler, payload json.RawMessage, meta Meta) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("ipc").With("channel", meta.Channel).Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, payload, meta)
}

// On installs h for topic, replacing any previous handler. The topic channel
// is subscribed the first time a handler is installed for it.
func (m *Manager) On(ctx context.Context, topic string, h Handler) error {
	if h == nil {
		return oops.In("ipc").With("topic", topic).Errorf("nil handler")
	}
	ch := m.channel(topic)

	m.onMu.Lock()
	defer m.onMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return closed()
	}
	_, exists := m.handlers[ch]
	m.handlers[ch] = h
	m.mu.Unlock()

	if exists {
		m.logger.Debug("ipc handler replaced", "topic", topic)
		return nil
	}
	if err := m.transport.Subscribe(ctx, ch); err != nil {
		m.mu.Lock()
		delete(m.handlers, ch)
		m.mu.Unlock()
		return oops.In("ipc").Code(CodeTransport).With("channel", ch).Wrap(err)
	}
	return nil
}

// Publish sends payload to every process subscribed to topic. Delivery is
// best effort: there is no acknowledgment and no retry.
func (m *Manager) Publish(ctx context.Context, topic string, payload any) error {
	if m.isClosed() {
		return closed()
	}
	body, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	data, err := Envelope{Kind: KindBroadcast, Topic: topic, Payload: body}.Encode()
	if err != nil {
		return err
	}
	if err := m.transport.Publish(ctx, m.channel(topic), data); err != nil {
		return oops.In("ipc").Code(CodeTransport).With("topic", topic).Wrap(err)
	}
	return nil
}

// Request sends payload to topic and waits for the first response. A timeout
// of zero or less uses the manager default. The deadline counts from the call.
func (m *Manager) Request(ctx context.Context, topic string, payload any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = m.timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ctx, span := m.tracer.Start(ctx, "ipc.Request", trace.WithAttributes(
		attribute.String("ipc.topic", topic),
	))
	defer span.End()

	res, outcome, err := m.request(ctx, timer.C, topic, payload, timeout)
	m.metrics.RecordIPCRequest(outcome)
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

func (m *Manager) request(ctx context.Context, deadline <-chan time.Time, topic string, payload any, timeout time.Duration) (json.RawMessage, string, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return nil, observability.OutcomeFailed, err
	}

	id := newID()
	replyTo := m.channel(replyTopic + id)
	reply := make(chan Envelope, 1)

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return nil, observability.OutcomeClosed, closed()
	case !m.started:
		m.mu.Unlock()
		return nil, observability.OutcomeFailed, oops.In("ipc").Code(CodeNotStarted).With("topic", topic).Wrap(ErrNotStarted)
	}
	m.pending[id] = reply
	m.mu.Unlock()

	subscribed := false
	defer func() {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		if subscribed {
			// The caller's context may already be done; cleanup must still run.
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			if err := m.transport.Unsubscribe(cctx, replyTo); err != nil {
				m.logger.Debug("ipc reply unsubscribe failed", "reply_to", replyTo, "error", err)
			}
		}
	}()

	if err := m.transport.Subscribe(ctx, replyTo); err != nil {
		return nil, observability.OutcomeFailed, oops.In("ipc").Code(CodeTransport).With("channel", replyTo).Wrap(err)
	}
	subscribed = true

	data, err := Envelope{Kind: KindRequest, ID: id, Topic: topic, Payload: body, ReplyTo: replyTo}.Encode()
	if err != nil {
		return nil, observability.OutcomeFailed, err
	}
	if err := m.transport.Publish(ctx, m.channel(topic), data); err != nil {
		return nil, observability.OutcomeFailed, oops.In("ipc").Code(CodeTransport).With("topic", topic).Wrap(err)
	}

	select {
	case env := <-reply:
		return env.Response, observability.OutcomeSuccess, nil
	case <-deadline:
		return nil, observability.OutcomeTimeout, requestTimeout(topic, id, timeout)
	case <-ctx.Done():
		return nil, observability.OutcomeCancelled, ctx.Err()
	case <-m.done:
		return nil, observability.OutcomeClosed, closed()
	}
}

// Call performs a Request and decodes the response into T.
func Call[T any](ctx context.Context, m *Manager, topic string, payload any, timeout time.Duration) (T, error) {
	var out T
	raw, err := m.Request(ctx, topic, payload, timeout)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, oops.In("ipc").Code(CodeDecode).With("topic", topic).
			Wrap(fmt.Errorf("decode %s response: %w", topic, err))
	}
	return out, nil
}

// Pending returns the number of requests waiting for a response.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Healthy returns nil while the manager is started and its transport is
// still delivering messages.
func (m *Manager) Healthy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return closed()
	case !m.started:
		return oops.In("ipc").Code(CodeNotStarted).Wrap(ErrNotStarted)
	case m.drained:
		return oops.In("ipc").Code(CodeTransport).Errorf("transport stream closed")
	}
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close stops the dispatch loop, fails in-flight requests with ErrClosed,
// waits for running handlers and closes the transport.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	if err := m.transport.Close(); err != nil {
		return oops.In("ipc").Code(CodeTransport).Wrap(err)
	}
	return nil
}
