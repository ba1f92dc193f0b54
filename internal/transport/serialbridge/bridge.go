// Package serialbridge is a Transport over a serial line. A microcontroller
// on the robot base exchanges newline-delimited JSON envelopes with the
// controller:
//
//	{"topic":"/scan","msg":{...LaserScan...}}
//	{"topic":"/cmd_vel","type":"geometry_msgs/Twist","msg":{...Twist...}}
//
// Lines for topics nobody subscribed to are discarded. When the port hits EOF
// or a read error the bridge is considered disconnected.
package serialbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/reflex/internal/monitoring"
	"github.com/banshee-data/reflex/internal/transport"
)

// ErrWriteFailed reports a short write to the serial port.
var ErrWriteFailed = errors.New("failed to write to serial port")

// maxLineBytes bounds one envelope. A 360-sample scan is a few KB.
const maxLineBytes = 256 * 1024

type envelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type,omitempty"`
	Msg   json.RawMessage `json:"msg"`
}

type outEnvelope struct {
	Topic string `json:"topic"`
	Type  string `json:"type,omitempty"`
	Msg   any    `json:"msg"`
}

// Bridge is a serial-line Transport.
type Bridge struct {
	path string
	opts PortOptions
	open PortOpener

	writeMu sync.Mutex
	port    SerialPorter

	mu          sync.Mutex
	subscribers map[string][]*subscription
	connected   bool
	lost        bool
	done        chan struct{}
	monitorDone chan struct{}
}

var _ transport.Transport = (*Bridge)(nil)

// New returns a bridge for the serial device at path.
func New(path string, opts PortOptions) *Bridge {
	return NewWithOpener(path, opts, OpenSerialPort)
}

// NewWithOpener returns a bridge that opens its port with open.
func NewWithOpener(path string, opts PortOptions, open PortOpener) *Bridge {
	return &Bridge{
		path:        path,
		opts:        opts,
		open:        open,
		subscribers: make(map[string][]*subscription),
		done:        make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
}

// Connect opens the serial port and starts reading envelopes from it.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.connected || b.lost {
		b.mu.Unlock()
		return fmt.Errorf("serial bridge already used")
	}
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	port, err := b.open(b.path, b.opts)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", b.path, err)
	}

	b.mu.Lock()
	b.port = port
	b.connected = true
	b.mu.Unlock()

	go b.monitor()
	monitoring.Logf("[serialbridge] opened %s", b.path)
	return nil
}

// Subscribe starts delivery of envelopes for topic.
func (b *Bridge) Subscribe(topic, msgType string) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.usableLocked(); err != nil {
		return nil, err
	}
	s := &subscription{bridge: b, topic: topic, box: transport.NewMailbox()}
	b.subscribers[topic] = append(b.subscribers[topic], s)
	return s, nil
}

// Advertise returns a publication writing envelopes for topic.
func (b *Bridge) Advertise(topic, msgType string) (transport.Publication, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.usableLocked(); err != nil {
		return nil, err
	}
	return &publication{bridge: b, topic: topic, msgType: msgType}, nil
}

// Done is closed when the port is lost or closed.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Close closes the port and waits for the reader to stop.
func (b *Bridge) Close() error {
	b.mu.Lock()
	port := b.port
	connected := b.connected
	b.connected = false
	b.mu.Unlock()

	if !connected {
		b.markLost(nil)
		return nil
	}
	err := port.Close()
	<-b.monitorDone
	b.markLost(nil)
	return err
}

func (b *Bridge) usableLocked() error {
	if b.lost {
		return transport.ErrDisconnected
	}
	if !b.connected {
		return transport.ErrNotConnected
	}
	return nil
}

// monitor reads envelopes until the port fails.
func (b *Bridge) monitor() {
	defer close(b.monitorDone)

	scan := bufio.NewScanner(b.port)
	scan.Buffer(make([]byte, 0, 16*1024), maxLineBytes)
	for scan.Scan() {
		line := scan.Bytes()
		if len(line) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil || env.Topic == "" {
			monitoring.Logf("[serialbridge] discarding unparseable line (%d bytes)", len(line))
			continue
		}
		// Copy out of the scanner's buffer before handing it on.
		msg := append(json.RawMessage(nil), env.Msg...)

		b.mu.Lock()
		for _, s := range b.subscribers[env.Topic] {
			s.box.Offer(msg)
		}
		b.mu.Unlock()
	}

	cause := scan.Err()
	if cause == nil {
		cause = io.EOF
	}
	b.mu.Lock()
	closing := !b.connected
	b.mu.Unlock()
	if closing {
		cause = nil
	}
	b.markLost(cause)
}

func (b *Bridge) markLost(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lost {
		return
	}
	b.lost = true
	close(b.done)
	for topic, subs := range b.subscribers {
		for _, s := range subs {
			s.box.Close()
		}
		delete(b.subscribers, topic)
	}
	if cause != nil {
		monitoring.Logf("[serialbridge] %s lost: %v", b.path, cause)
	}
}

func (b *Bridge) unsubscribe(s *subscription) {
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

// write sends one envelope line. A short write is transient; an I/O error
// means the device is gone.
func (b *Bridge) write(ctx context.Context, env outEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	err := b.usableLocked()
	port := b.port
	b.mu.Unlock()
	if err != nil {
		return err
	}

	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope for %s: %w", env.Topic, err)
	}
	line = append(line, '\n')

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	n, err := port.Write(line)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrDisconnected, err)
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

type subscription struct {
	bridge *Bridge
	topic  string
	box    *transport.Mailbox
	once   sync.Once
}

func (s *subscription) Messages() <-chan json.RawMessage { return s.box.C() }

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() { s.bridge.unsubscribe(s) })
	return nil
}

type publication struct {
	bridge  *Bridge
	topic   string
	msgType string
}

func (p *publication) Publish(ctx context.Context, msg any) error {
	return p.bridge.write(ctx, outEnvelope{Topic: p.topic, Type: p.msgType, Msg: msg})
}

// Unadvertise is a no-op: the serial protocol has no publisher registry.
func (p *publication) Unadvertise() error { return nil }
