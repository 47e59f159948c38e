package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tkrause/leitung/pkg/api"
	"github.com/tkrause/leitung/pkg/debug"
	"github.com/tkrause/leitung/pkg/observability"
)

// Config holds configuration for the transport core.
type Config struct {
	// InboundCapacity bounds the queue fed by all POST submissions.
	InboundCapacity int
	// OutboundCapacity bounds each subscriber's outbound queue.
	OutboundCapacity int
	// BroadcastWait is how long Broadcast waits for one slow subscriber
	// before dropping the message for that subscriber only. Zero means
	// drop immediately when the queue is full.
	BroadcastWait time.Duration
	// Codec decodes submitted bodies and is shared with the SSE layer
	// for encoding. Defaults to api.JSONRPCCodec.
	Codec api.Codec
	// Logger receives structured lifecycle and delivery logs.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		InboundCapacity:  20,
		OutboundCapacity: 20,
		BroadcastWait:    50 * time.Millisecond,
		Codec:            api.JSONRPCCodec{},
		Logger:           slog.Default(),
	}
}

// Transport owns the inbound queue, the subscriber registry, and the
// captured session-initialization parameters. All methods are safe for
// concurrent use.
type Transport struct {
	codec         api.Codec
	logger        *slog.Logger
	broadcastWait time.Duration
	outboundCap   int

	inbound chan api.Message

	mu          sync.Mutex
	subscribers map[string]*Subscription

	initParams atomic.Pointer[json.RawMessage]

	done     chan struct{}
	shutdown sync.Once
}

// New creates a Transport from cfg. Zero-valued fields fall back to
// DefaultConfig values.
func New(cfg Config) *Transport {
	def := DefaultConfig()
	if cfg.InboundCapacity <= 0 {
		cfg.InboundCapacity = def.InboundCapacity
	}
	if cfg.OutboundCapacity <= 0 {
		cfg.OutboundCapacity = def.OutboundCapacity
	}
	if cfg.Codec == nil {
		cfg.Codec = def.Codec
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}

	return &Transport{
		codec:         cfg.Codec,
		logger:        cfg.Logger,
		broadcastWait: cfg.BroadcastWait,
		outboundCap:   cfg.OutboundCapacity,
		inbound:       make(chan api.Message, cfg.InboundCapacity),
		subscribers:   make(map[string]*Subscription),
		done:          make(chan struct{}),
	}
}

// Codec returns the codec the transport decodes submissions with. The SSE
// layer uses the same codec for outbound encoding.
func (t *Transport) Codec() api.Codec {
	return t.codec
}

// Submit decodes raw into a message and enqueues it on the inbound queue,
// suspending the caller while the queue is full. A decode failure is
// returned without touching the queue. Cancellation of ctx, or transport
// shutdown, aborts the suspend with an ErrorKindCancelled error; no
// partial enqueue occurs.
//
// When the decoded value is the session-initialization request, its
// parameters atomically replace the previously captured ones before the
// message is enqueued.
func (t *Transport) Submit(ctx context.Context, raw []byte) error {
	msg, err := t.codec.Decode(raw)
	if err != nil {
		return err
	}

	if params, ok := api.InitializeRequestParams(msg); ok {
		t.initParams.Store(&params)
		t.logger.Debug("captured initialize params", slog.Int("size", len(params)))
	}

	// Fail fast once shutdown has begun, even if queue space is free.
	select {
	case <-t.done:
		return api.NewSubmissionCancelledError("transport is shutting down")
	default:
	}

	select {
	case t.inbound <- msg:
		observability.InboundMessagesTotal.Inc()
		return nil
	case <-ctx.Done():
		return api.NewSubmissionCancelledError("submission cancelled: " + ctx.Err().Error())
	case <-t.done:
		return api.NewSubmissionCancelledError("transport is shutting down")
	}
}

// Receive returns the next inbound message, suspending until one is
// available. It keeps draining messages that were queued before shutdown
// began; once the queue is empty and the transport is shut down it
// returns an ErrorKindTransportClosed error. Cancellation of ctx returns
// ctx.Err().
func (t *Transport) Receive(ctx context.Context) (api.Message, error) {
	// Buffered messages drain even after shutdown.
	select {
	case msg := <-t.inbound:
		return msg, nil
	default:
	}

	select {
	case msg := <-t.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		select {
		case msg := <-t.inbound:
			return msg, nil
		default:
			return nil, api.NewTransportClosedError()
		}
	}
}

// Subscribe registers a new outbound queue under id and returns its
// handle. The id must be unique among live subscriptions; closing the
// handle releases it.
func (t *Transport) Subscribe(id string) (*Subscription, error) {
	select {
	case <-t.done:
		return nil, api.NewTransportClosedError()
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.subscribers[id]; exists {
		return nil, fmt.Errorf("subscriber %q is already registered", id)
	}

	sub := &Subscription{
		id:        id,
		ch:        make(chan api.Message, t.outboundCap),
		done:      make(chan struct{}),
		transport: t,
	}
	t.subscribers[id] = sub
	observability.SubscribersActive.Inc()
	return sub, nil
}

// Broadcast hands msg to every currently registered subscriber's outbound
// queue, best-effort. Delivery failure for one subscriber (closed, or
// still full after the bounded wait) is logged and counted but never
// aborts delivery to the rest. Broadcast returns once every handoff has
// been attempted; it does not wait for wire transmission.
func (t *Transport) Broadcast(msg api.Message) {
	t.mu.Lock()
	subs := make([]*Subscription, 0, len(t.subscribers))
	for _, sub := range t.subscribers {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	observability.BroadcastsTotal.Inc()
	debug.Log("queue", "broadcasting", "subscribers", len(subs))
	for _, sub := range subs {
		t.deliver(sub, msg)
	}
}

// deliver enqueues msg for one subscriber, waiting at most broadcastWait
// when the queue is full. The send never touches a closed channel: the
// subscription's data channel stays open for its lifetime and closure is
// signalled through its done channel instead.
func (t *Transport) deliver(sub *Subscription, msg api.Message) {
	select {
	case sub.ch <- msg:
		return
	case <-sub.done:
		return
	default:
	}

	if t.broadcastWait <= 0 {
		t.dropFor(sub)
		return
	}

	timer := time.NewTimer(t.broadcastWait)
	defer timer.Stop()

	select {
	case sub.ch <- msg:
	case <-sub.done:
	case <-timer.C:
		t.dropFor(sub)
	}
}

func (t *Transport) dropFor(sub *Subscription) {
	observability.BroadcastDropsTotal.Inc()
	t.logger.Warn("outbound queue full, dropping message for subscriber",
		slog.String("subscriber_id", sub.id))
}

// InitializeParams returns the parameters of the most recently observed
// session-initialization request. The second result is false when none
// has been observed yet. The captured value is replaced wholesale on each
// new initialization, never merged.
func (t *Transport) InitializeParams() (json.RawMessage, bool) {
	p := t.initParams.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

// SubscriberCount returns the number of live subscriptions.
func (t *Transport) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Shutdown signals cancellation to every pending Submit, Receive, and
// Subscription.Next. Already-queued messages stay readable; new
// submissions fail fast. Shutdown is idempotent.
func (t *Transport) Shutdown() {
	t.shutdown.Do(func() {
		close(t.done)
		t.logger.Info("transport shut down",
			slog.Int("subscribers", t.SubscriberCount()),
			slog.Int("queued_inbound", len(t.inbound)))
	})
}

func (t *Transport) removeSubscriber(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subscribers[id]; ok {
		delete(t.subscribers, id)
		observability.SubscribersActive.Dec()
	}
}
