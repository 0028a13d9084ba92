package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Subscriber controls which events the remote source emits. A nil name
// list means all events.
type Subscriber interface {
	EnableEvents(ctx context.Context, names []string) error
	DisableEvents(ctx context.Context, names []string) error
}

// Listener receives events on the bus dispatch goroutine.
type Listener func(Event)

// Token identifies a listener registration.
type Token uint64

type registration struct {
	token    Token
	kinds    map[Kind]bool
	listener Listener
}

type inbound struct {
	name     string
	payload  json.RawMessage
	received time.Time
}

// Bus decodes raw actor events and hands them to listeners in arrival
// order. Deliver never blocks, so a transport reader can feed the bus while
// a listener waits on a command acknowledgement carried by that transport.
type Bus struct {
	source Subscriber
	logger *slog.Logger

	mu        sync.Mutex
	listeners []registration
	nextToken Token
	active    []Kind
	queue     []inbound
	closed    bool
	dropped   int

	notify   chan struct{}
	dispatch sync.Mutex
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for dropped events.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger.With(slog.String("component", "telemetry"))
	}
}

// NewBus returns a bus whose subscriptions are applied through source.
func NewBus(source Subscriber, opts ...Option) *Bus {
	b := &Bus{
		source: source,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		notify: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe replaces the remote subscription: every event is disabled,
// then exactly the wire events needed for kinds are enabled. An empty set
// leaves everything disabled.
func (b *Bus) Subscribe(ctx context.Context, kinds []Kind) error {
	if err := b.source.DisableEvents(ctx, nil); err != nil {
		return err
	}

	b.mu.Lock()
	b.active = append([]Kind(nil), kinds...)
	b.mu.Unlock()

	names := WireNames(kinds)
	if len(names) == 0 {
		return nil
	}
	return b.source.EnableEvents(ctx, names)
}

// Resubscribe re-applies the last subscription. Remote sources reset
// their event streams when the vehicle link reconnects.
func (b *Bus) Resubscribe(ctx context.Context) error {
	return b.Subscribe(ctx, b.Active())
}

// Active returns the kinds of the last Subscribe call.
func (b *Bus) Active() []Kind {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Kind(nil), b.active...)
}

// OnEvent registers l. When kinds are given, l only receives those kinds.
func (b *Bus) OnEvent(l Listener, kinds ...Kind) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextToken++
	reg := registration{token: b.nextToken, listener: l}
	if len(kinds) > 0 {
		reg.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			reg.kinds[k] = true
		}
	}
	b.listeners = append(b.listeners, reg)
	return reg.token
}

// Unsubscribe removes a listener. It reports whether the token was live.
func (b *Bus) Unsubscribe(token Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, reg := range b.listeners {
		if reg.token == token {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// UnsubscribeAll removes every listener.
func (b *Bus) UnsubscribeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = nil
}

// Listeners returns the number of registered listeners.
func (b *Bus) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Dropped returns how many raw events failed to decode.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Deliver queues a raw event for Run. It never blocks and is a no-op once
// the bus is closed.
func (b *Bus) Deliver(name string, payload json.RawMessage) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, inbound{name: name, payload: payload, received: time.Now()})
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Run decodes queued events and publishes them until ctx is done or the
// bus is closed. Run must be called from a single goroutine.
func (b *Bus) Run(ctx context.Context) error {
	for {
		batch, closed := b.take()
		for _, in := range batch {
			b.publishRaw(in)
		}
		if closed {
			return nil
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.notify:
		}
	}
}

// Close stops Run after it drains the events already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Publish hands ev to every matching listener, in registration order.
// Concurrent callers are serialized so listeners never run in parallel.
func (b *Bus) Publish(ev Event) {
	if ev.Received.IsZero() {
		ev.Received = time.Now()
	}

	b.dispatch.Lock()
	defer b.dispatch.Unlock()

	b.mu.Lock()
	regs := append([]registration(nil), b.listeners...)
	b.mu.Unlock()

	for _, reg := range regs {
		if reg.kinds != nil && !reg.kinds[ev.Kind] {
			continue
		}
		if !b.live(reg.token) {
			continue
		}
		reg.listener(ev)
	}
}

func (b *Bus) take() ([]inbound, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.queue
	b.queue = nil
	return batch, b.closed
}

func (b *Bus) publishRaw(in inbound) {
	events, err := Decode(in.name, in.payload)
	if err != nil {
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.logger.Warn("dropping malformed event", "event", in.name, "error", err)
		return
	}
	for _, ev := range events {
		ev.Received = in.received
		b.Publish(ev)
	}
}

// live reports whether token is still registered. A listener removed by
// an earlier listener of the same event must not see it.
func (b *Bus) live(token Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, reg := range b.listeners {
		if reg.token == token {
			return true
		}
	}
	return false
}
