// Package loopback is an in-process Transport. Messages published on a topic
// are delivered to that topic's subscribers and recorded for inspection.
// It backs the synthetic mode of the controller and the controller tests.
package loopback

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/banshee-data/reflex/internal/transport"
)

// Bus is an in-memory Transport.
type Bus struct {
	mu          sync.Mutex
	connected   bool
	closed      bool
	done        chan struct{}
	subscribers map[string][]*subscription
	advertised  map[string]int
	published   map[string][]json.RawMessage

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error

	publishErrs []error
}

// NewBus returns an unconnected bus.
func NewBus() *Bus {
	return &Bus{
		done:        make(chan struct{}),
		subscribers: make(map[string][]*subscription),
		advertised:  make(map[string]int),
		published:   make(map[string][]json.RawMessage),
	}
}

var _ transport.Transport = (*Bus)(nil)

// Connect marks the bus connected, or returns ConnectErr.
func (b *Bus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ConnectErr != nil {
		return b.ConnectErr
	}
	if b.closed {
		return transport.ErrDisconnected
	}
	b.connected = true
	return nil
}

// Subscribe registers a latest-wins subscription on topic.
func (b *Bus) Subscribe(topic, msgType string) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, transport.ErrNotConnected
	}
	s := &subscription{bus: b, topic: topic, box: transport.NewMailbox()}
	b.subscribers[topic] = append(b.subscribers[topic], s)
	return s, nil
}

// Advertise registers a publication on topic.
func (b *Bus) Advertise(topic, msgType string) (transport.Publication, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, transport.ErrNotConnected
	}
	b.advertised[topic]++
	return &publication{bus: b, topic: topic}, nil
}

// Done is closed by Disconnect or Close.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Close disconnects the bus.
func (b *Bus) Close() error {
	b.Disconnect()
	return nil
}

// Disconnect simulates losing the link: Done closes, subscriptions close and
// later publishes fail with transport.ErrDisconnected.
func (b *Bus) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.connected = false
	close(b.done)
	for topic, subs := range b.subscribers {
		for _, s := range subs {
			s.box.Close()
		}
		delete(b.subscribers, topic)
	}
}

// Inject delivers msg to every subscriber of topic as if it had arrived from
// the robot. msg may be raw JSON bytes or any JSON-encodable value.
func (b *Bus) Inject(topic string, msg any) error {
	raw, err := encode(msg)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscribers[topic] {
		s.box.Offer(raw)
	}
	return nil
}

// FailNextPublish queues errors returned by the next publishes, one per call.
func (b *Bus) FailNextPublish(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErrs = append(b.publishErrs, errs...)
}

// Published returns every message published on topic so far.
func (b *Bus) Published(topic string) []json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]json.RawMessage(nil), b.published[topic]...)
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[topic])
}

// Advertised returns the number of live publications on topic.
func (b *Bus) Advertised(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.advertised[topic]
}

func (b *Bus) publish(topic string, msg any) error {
	raw, err := encode(msg)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return transport.ErrDisconnected
	}
	if len(b.publishErrs) > 0 {
		err := b.publishErrs[0]
		b.publishErrs = b.publishErrs[1:]
		if err != nil {
			return err
		}
	}
	b.published[topic] = append(b.published[topic], raw)
	for _, s := range b.subscribers[topic] {
		s.box.Offer(raw)
	}
	return nil
}

func (b *Bus) unsubscribe(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[s.topic]
	for i, cur := range subs {
		if cur == s {
			b.subscribers[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.box.Close()
}

func (b *Bus) unadvertise(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.advertised[topic] > 0 {
		b.advertised[topic]--
	}
}

func encode(msg any) (json.RawMessage, error) {
	switch m := msg.(type) {
	case json.RawMessage:
		return m, nil
	case []byte:
		return json.RawMessage(m), nil
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return raw, nil
}

type subscription struct {
	bus   *Bus
	topic string
	box   *transport.Mailbox
	once  sync.Once
}

func (s *subscription) Messages() <-chan json.RawMessage { return s.box.C() }

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() { s.bus.unsubscribe(s) })
	return nil
}

type publication struct {
	bus   *Bus
	topic string
	once  sync.Once
}

func (p *publication) Publish(ctx context.Context, msg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.bus.publish(p.topic, msg)
}

func (p *publication) Unadvertise() error {
	p.once.Do(func() { p.bus.unadvertise(p.topic) })
	return nil
}
