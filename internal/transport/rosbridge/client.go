// Package rosbridge is a Transport speaking the rosbridge v2 JSON protocol
// over a websocket, the way a robot running rosbridge_server exposes its ROS
// topics to non-ROS processes.
package rosbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/reflex/internal/monitoring"
	"github.com/banshee-data/reflex/internal/transport"
)

// DefaultURL is where rosbridge_server listens out of the box.
const DefaultURL = "ws://localhost:9090"

// livenessTimeout bounds a single socket write. A write stuck this long
// means the peer is gone, not merely slow.
const livenessTimeout = 5 * time.Second

// operation is one rosbridge protocol frame as sent by this client.
type operation struct {
	Op          string `json:"op"`
	ID          string `json:"id,omitempty"`
	Topic       string `json:"topic,omitempty"`
	Type        string `json:"type,omitempty"`
	Msg         any    `json:"msg,omitempty"`
	QueueLength int    `json:"queue_length,omitempty"`
}

// inbound is a rosbridge frame as received. For "publish" Msg is the ROS
// message; for "status" it is a human-readable string.
type inbound struct {
	Op    string          `json:"op"`
	ID    string          `json:"id,omitempty"`
	Topic string          `json:"topic,omitempty"`
	Level string          `json:"level,omitempty"`
	Msg   json.RawMessage `json:"msg,omitempty"`
}

// Client is a rosbridge Transport.
type Client struct {
	url    string
	dialer *websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn
	out     *outbox

	stopWrites chan struct{}
	writeDone  chan struct{}

	mu        sync.Mutex
	subs      map[string][]*subscription
	connected bool
	lost      bool
	closed    bool
	done      chan struct{}
	readDone  chan struct{}
}

var _ transport.Transport = (*Client)(nil)

// NewClient returns an unconnected client for the rosbridge at url.
func NewClient(url string) *Client {
	return &Client{
		url:        url,
		dialer:     websocket.DefaultDialer,
		out:        newOutbox(),
		subs:       make(map[string][]*subscription),
		done:       make(chan struct{}),
		readDone:   make(chan struct{}),
		stopWrites: make(chan struct{}),
		writeDone:  make(chan struct{}),
	}
}

// Connect dials the bridge and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected || c.lost {
		c.mu.Unlock()
		return fmt.Errorf("rosbridge client already used")
	}
	c.mu.Unlock()

	monitoring.Logf("[rosbridge] connecting to %s", c.url)
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to rosbridge at %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()
	go c.writeLoop()
	monitoring.Logf("[rosbridge] connected to %s", c.url)
	return nil
}

// Done is closed once the websocket is lost or closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Subscribe asks the bridge to forward topic. Delivery is latest-wins.
func (c *Client) Subscribe(topic, msgType string) (transport.Subscription, error) {
	s := &subscription{
		client: c,
		id:     newID("subscribe", topic),
		topic:  topic,
		box:    transport.NewMailbox(),
	}

	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.subs[topic] = append(c.subs[topic], s)
	c.mu.Unlock()

	err := c.write(operation{
		Op:          "subscribe",
		ID:          s.id,
		Topic:       topic,
		Type:        msgType,
		QueueLength: 1,
	})
	if err != nil {
		c.removeSubscription(s)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return s, nil
}

// Advertise announces this client as a publisher of topic.
func (c *Client) Advertise(topic, msgType string) (transport.Publication, error) {
	c.mu.Lock()
	err := c.usableLocked()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p := &publication{client: c, id: newID("advertise", topic), topic: topic}
	if err := c.write(operation{
		Op:    "advertise",
		ID:    p.id,
		Topic: topic,
		Type:  msgType,
	}); err != nil {
		return nil, fmt.Errorf("failed to advertise %s: %w", topic, err)
	}
	return p, nil
}

// Close flushes queued publishes, sends a websocket close frame, drops the
// connection and waits for the read loop to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if alreadyClosed {
		return nil
	}
	if !connected {
		c.markLost(nil)
		return nil
	}

	close(c.stopWrites)
	<-c.writeDone

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(livenessTimeout))
	err := conn.Close()
	c.writeMu.Unlock()

	<-c.readDone
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	return err
}

func (c *Client) usableLocked() error {
	if c.lost {
		return transport.ErrDisconnected
	}
	if !c.connected {
		return transport.ErrNotConnected
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.markLost(err)
			return
		}

		var frame inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			monitoring.Logf("[rosbridge] ignoring unparseable frame: %v", err)
			continue
		}

		switch frame.Op {
		case "publish":
			c.dispatch(frame.Topic, frame.Msg)
		case "status":
			monitoring.Logf("[rosbridge] status %s (id=%s): %s", frame.Level, frame.ID, string(frame.Msg))
		default:
			// service responses and other ops are not used by the controller
		}
	}
}

func (c *Client) dispatch(topic string, msg json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs[topic] {
		s.box.Offer(msg)
	}
}

// markLost closes Done and every subscription. It is idempotent.
func (c *Client) markLost(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost {
		return
	}
	c.lost = true
	close(c.done)
	for topic, subs := range c.subs {
		for _, s := range subs {
			s.box.Close()
		}
		delete(c.subs, topic)
	}
	if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		monitoring.Logf("[rosbridge] connection lost: %v", cause)
	}
}

func (c *Client) removeSubscription(s *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.subs[s.topic]
	for i, cur := range subs {
		if cur == s {
			c.subs[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(c.subs[s.topic]) == 0 {
		delete(c.subs, s.topic)
	}
	s.box.Close()
}

// writeLoop drains the outbox. A slow socket delays commands here but never
// fails a caller's publish.
func (c *Client) writeLoop() {
	defer close(c.writeDone)
	for {
		select {
		case <-c.out.wake:
			if !c.flush() {
				return
			}
		case <-c.stopWrites:
			c.flush()
			return
		case <-c.done:
			return
		}
	}
}

func (c *Client) flush() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.flushLocked() == nil
}

func (c *Client) flushLocked() error {
	for _, payload := range c.out.take() {
		if err := c.sendLocked(payload); err != nil {
			return err
		}
	}
	return nil
}

// write encodes and sends a control frame synchronously, after any queued
// publishes so an unadvertise never overtakes the last command.
func (c *Client) write(op operation) error {
	c.mu.Lock()
	err := c.usableLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", op.Op, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.flushLocked(); err != nil {
		return err
	}
	return c.sendLocked(payload)
}

// sendLocked puts one frame on the socket. gorilla/websocket allows a single
// concurrent writer, so callers hold writeMu. A failed write leaves the
// connection unusable, so it is reported as a disconnection.
func (c *Client) sendLocked(payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(livenessTimeout)); err != nil {
		c.markLost(err)
		return fmt.Errorf("%w: %v", transport.ErrDisconnected, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.markLost(err)
		return fmt.Errorf("%w: %v", transport.ErrDisconnected, err)
	}
	return nil
}

func newID(op, topic string) string {
	return fmt.Sprintf("%s:%s:%s", op, topic, uuid.NewString())
}

type subscription struct {
	client *Client
	id     string
	topic  string
	box    *transport.Mailbox
	once   sync.Once
}

func (s *subscription) Messages() <-chan json.RawMessage { return s.box.C() }

// Unsubscribe tells the bridge to stop forwarding and closes the channel.
// Once the connection is gone only the local side is torn down.
func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.client.removeSubscription(s)
		err = s.client.write(operation{Op: "unsubscribe", ID: s.id, Topic: s.topic})
		if errors.Is(err, transport.ErrDisconnected) {
			err = nil
		}
	})
	return err
}

type publication struct {
	client *Client
	id     string
	topic  string
	once   sync.Once
}

// Publish queues msg for the writer and returns without touching the socket.
// A newer publish on the same topic replaces one that has not been sent yet.
func (p *publication) Publish(ctx context.Context, msg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := p.client
	c.mu.Lock()
	err := c.usableLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(operation{Op: "publish", ID: newID("publish", p.topic), Topic: p.topic, Msg: msg})
	if err != nil {
		return fmt.Errorf("failed to encode publish frame: %w", err)
	}
	c.out.put(p.topic, payload)
	return nil
}

func (p *publication) Unadvertise() error {
	var err error
	p.once.Do(func() {
		err = p.client.write(operation{Op: "unadvertise", ID: p.id, Topic: p.topic})
		if errors.Is(err, transport.ErrDisconnected) {
			err = nil
		}
	})
	return err
}
