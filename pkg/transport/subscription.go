package transport

import (
	"context"
	"sync"

	"github.com/tkrause/leitung/pkg/api"
)

// Subscription is the handle for one subscriber's outbound queue. Its
// sole read operation is Next; Close releases the queue and removes the
// subscriber from the registry.
//
// The data channel is never closed. Closure is signalled through a
// separate done channel, so a Broadcast racing with Close can never send
// on a closed channel.
type Subscription struct {
	id        string
	ch        chan api.Message
	done      chan struct{}
	closeOnce sync.Once
	transport *Transport
}

// ID returns the subscriber identifier this handle was registered under.
func (s *Subscription) ID() string {
	return s.id
}

// Next returns the next outbound message, suspending until one is
// available, ctx is cancelled, the subscription is closed, or the
// transport shuts down. Messages already queued are drained before a
// closure is reported.
func (s *Subscription) Next(ctx context.Context) (api.Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	default:
	}

	select {
	case msg := <-s.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		select {
		case msg := <-s.ch:
			return msg, nil
		default:
			return nil, api.NewSubscriptionClosedError()
		}
	case <-s.transport.done:
		return nil, api.NewTransportClosedError()
	}
}

// Close removes the subscription from the registry and unblocks any
// pending Next. It is idempotent and safe to call while a concurrent
// Broadcast is iterating the registry snapshot.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.transport.removeSubscriber(s.id)
	})
}
