// Package transport defines the pub/sub boundary between the controller and
// whatever carries messages to and from the robot: a rosbridge websocket, a
// serial line to a microcontroller, or an in-process loopback bus.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var (
	// ErrDisconnected reports that the link to the robot is gone for good.
	// Publishers return it (possibly wrapped) once the connection is lost.
	ErrDisconnected = errors.New("transport disconnected")

	// ErrNotConnected is returned by operations issued before Connect.
	ErrNotConnected = errors.New("transport not connected")
)

// Transport is a topic-based message link.
type Transport interface {
	// Connect establishes the link. It fails if the far end is unreachable.
	Connect(ctx context.Context) error

	// Subscribe starts delivery of messages published on topic.
	Subscribe(topic, msgType string) (Subscription, error)

	// Advertise registers this process as a publisher on topic.
	Advertise(topic, msgType string) (Publication, error)

	// Done is closed once the link is lost or closed.
	Done() <-chan struct{}

	// Close tears down the link. Open subscriptions are closed.
	Close() error
}

// Subscription delivers raw message payloads for one topic.
type Subscription interface {
	// Messages returns the delivery channel. It is closed by Unsubscribe or
	// when the transport goes away.
	Messages() <-chan json.RawMessage

	// Unsubscribe stops delivery and closes the Messages channel.
	Unsubscribe() error
}

// Publication sends messages on one topic.
type Publication interface {
	// Publish sends msg. The context bounds how long the send may take.
	Publish(ctx context.Context, msg any) error

	// Unadvertise releases the publication.
	Unadvertise() error
}

// Mailbox is a single-slot, latest-wins delivery channel. Offer never
// blocks: if the consumer has not taken the previous message it is replaced
// by the new one. All methods are safe for concurrent use, and Offer after
// Close is a no-op.
type Mailbox struct {
	mu     sync.Mutex
	ch     chan json.RawMessage
	closed bool
}

// NewMailbox returns an open mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan json.RawMessage, 1)}
}

// C returns the receive side.
func (m *Mailbox) C() <-chan json.RawMessage {
	return m.ch
}

// Offer delivers msg, displacing any message still waiting. It reports
// whether a waiting message was displaced.
func (m *Mailbox) Offer(msg json.RawMessage) (displaced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.ch <- msg:
		return false
	default:
	}
	select {
	case <-m.ch:
		displaced = true
	default:
	}
	select {
	case m.ch <- msg:
	default:
	}
	return displaced
}

// Close closes the receive channel. It is idempotent.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}
