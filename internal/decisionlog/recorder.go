package decisionlog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/reflex/internal/monitoring"
	"github.com/banshee-data/reflex/internal/scan"
	"github.com/banshee-data/reflex/internal/timeutil"
)

// Inserter is the write side of Store.
type Inserter interface {
	Insert(e Entry) (int64, error)
}

// Recorder queues decisions from the ingestion path and writes them to the
// store in the background. Record never blocks: when the queue is full the
// decision is dropped and counted.
type Recorder struct {
	store Inserter
	runID string
	clock timeutil.Clock
	queue chan Entry

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// RecorderStats are the recorder's lifetime counters.
type RecorderStats struct {
	RunID   string `json:"run_id"`
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Queued  int    `json:"queued"`
}

// NewRecorder returns a recorder with a fresh run id and room for buffer
// pending decisions.
func NewRecorder(store Inserter, buffer int) *Recorder {
	if buffer < 1 {
		buffer = 1
	}
	return &Recorder{
		store: store,
		runID: uuid.NewString(),
		clock: timeutil.RealClock{},
		queue: make(chan Entry, buffer),
	}
}

// SetClock replaces the clock used to stamp recorded_at.
func (r *Recorder) SetClock(c timeutil.Clock) { r.clock = c }

// RunID identifies this process's decisions in the log.
func (r *Recorder) RunID() string { return r.runID }

// Record queues a decision made for the scan with the given header stamp and
// frame id.
func (r *Recorder) Record(stamp time.Time, frameID string, d scan.Decision) {
	e := Entry{
		RunID:      r.runID,
		Stamp:      stamp,
		FrameID:    frameID,
		Action:     d.Action.String(),
		Front:      d.Summary.Front,
		Left:       d.Summary.Left,
		Right:      d.Summary.Right,
		Linear:     d.Linear,
		Angular:    d.Angular,
		RecordedAt: r.clock.Now(),
	}
	select {
	case r.queue <- e:
	default:
		if r.dropped.Add(1)%100 == 1 {
			monitoring.Logf("[decisionlog] queue full, dropped %d decisions so far", r.dropped.Load())
		}
	}
}

// Run writes queued decisions until ctx is cancelled, then flushes whatever
// is still queued. Insert failures are logged and counted.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case e := <-r.queue:
			r.write(e)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		default:
			return
		}
	}
}

func (r *Recorder) write(e Entry) {
	if _, err := r.store.Insert(e); err != nil {
		if r.failed.Add(1)%100 == 1 {
			monitoring.Logf("[decisionlog] %v", err)
		}
		return
	}
	r.written.Add(1)
}

// Stats returns the current counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		RunID:   r.runID,
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
		Queued:  len(r.queue),
	}
}
