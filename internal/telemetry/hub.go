// Package telemetry fans the controller's published velocity commands out to
// live observers: gRPC streams and an SSE tail on the debug server.
package telemetry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"
)

// Command is one velocity command as it was sent to the robot.
type Command struct {
	Tick    uint64    `json:"tick"`
	Linear  float64   `json:"linear_x"`
	Angular float64   `json:"angular_z"`
	Sent    time.Time `json:"sent"`
}

// Struct encodes c as a protobuf Struct for the gRPC stream.
func (c Command) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"tick":      c.Tick,
		"linear_x":  c.Linear,
		"angular_z": c.Angular,
		"sent":      c.Sent.UTC().Format(time.RFC3339Nano),
	})
}

// CommandFromStruct decodes a Struct produced by Command.Struct.
func CommandFromStruct(s *structpb.Struct) (Command, error) {
	f := s.GetFields()
	var c Command
	for _, key := range []string{"tick", "linear_x", "angular_z", "sent"} {
		if _, ok := f[key]; !ok {
			return c, fmt.Errorf("telemetry struct missing %q", key)
		}
	}
	c.Tick = uint64(f["tick"].GetNumberValue())
	c.Linear = f["linear_x"].GetNumberValue()
	c.Angular = f["angular_z"].GetNumberValue()
	sent, err := time.Parse(time.RFC3339Nano, f["sent"].GetStringValue())
	if err != nil {
		return c, fmt.Errorf("telemetry struct has bad sent time: %w", err)
	}
	c.Sent = sent
	return c, nil
}

// subscriberBuffer is how many commands a slow observer may fall behind
// before it starts missing them.
const subscriberBuffer = 32

// Hub broadcasts commands to any number of subscribers. Broadcast never
// blocks: a subscriber whose buffer is full misses the command.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan Command
	closed      bool

	broadcasts atomic.Uint64
	dropped    atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan Command)}
}

// Subscribe registers a new subscriber and returns its id and channel. The
// channel is closed by Unsubscribe or Close.
func (h *Hub) Subscribe() (string, <-chan Command) {
	id := uuid.NewString()
	ch := make(chan Command, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Broadcast sends c to every subscriber that has room for it.
func (h *Hub) Broadcast(c Command) {
	h.broadcasts.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- c:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// HubStats are lifetime counters.
type HubStats struct {
	Broadcasts  uint64 `json:"broadcasts"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Stats returns the hub's counters and current subscriber count.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Broadcasts:  h.broadcasts.Load(),
		Dropped:     h.dropped.Load(),
		Subscribers: h.Subscribers(),
	}
}

// Close disconnects every subscriber. Later subscribers get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
