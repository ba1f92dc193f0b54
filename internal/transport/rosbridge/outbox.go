package rosbridge

import "sync"

// outbox holds the newest unsent publish frame per topic, in the order the
// topics were first queued.
type outbox struct {
	mu      sync.Mutex
	pending map[string][]byte
	order   []string
	wake    chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		pending: make(map[string][]byte),
		wake:    make(chan struct{}, 1),
	}
}

// put queues payload for topic and reports whether it replaced an unsent one.
func (o *outbox) put(topic string, payload []byte) bool {
	o.mu.Lock()
	_, replaced := o.pending[topic]
	if !replaced {
		o.order = append(o.order, topic)
	}
	o.pending[topic] = payload
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return replaced
}

// take empties the outbox.
func (o *outbox) take() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([][]byte, 0, len(o.order))
	for _, topic := range o.order {
		out = append(out, o.pending[topic])
		delete(o.pending, topic)
	}
	o.order = o.order[:0]
	return out
}
