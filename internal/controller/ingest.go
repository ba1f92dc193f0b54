package controller

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/reflex/internal/monitoring"
	"github.com/banshee-data/reflex/internal/rosmsg"
	"github.com/banshee-data/reflex/internal/scan"
)

// DecisionRecorder receives every decision for offline inspection. Record
// must not block.
type DecisionRecorder interface {
	Record(stamp time.Time, frameID string, d scan.Decision)
}

// LastScan is the most recently analysed scan, kept for the debug pages.
type LastScan struct {
	Stamp    time.Time     `json:"stamp"`
	FrameID  string        `json:"frame_id"`
	RangeMax float64       `json:"range_max"`
	Ranges   []float64     `json:"-"`
	Decision scan.Decision `json:"-"`
	Received time.Time     `json:"received"`
}

type lastScanBox struct {
	mu   sync.Mutex
	scan *LastScan
}

func (b *lastScanBox) store(s *LastScan) {
	b.mu.Lock()
	b.scan = s
	b.mu.Unlock()
}

func (b *lastScanBox) load() *LastScan {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scan
}

// Ingest handles one inbound scan payload: decode, analyse, and write the
// decision into the command register. Malformed and short scans are counted
// and dropped, leaving the register untouched. Ingest must not be called
// concurrently with itself.
func (c *Controller) Ingest(raw json.RawMessage) (scan.Decision, bool) {
	msg, err := rosmsg.DecodeLaserScan(raw)
	if err != nil {
		c.drop(err)
		return scan.Decision{}, false
	}
	summary, err := scan.Summarize(msg.Ranges)
	if err != nil {
		c.drop(err)
		return scan.Decision{}, false
	}
	d := c.analyzer.Decide(summary)

	c.state.Write(d.Linear, d.Angular)
	c.stats.scansIngested.Add(1)
	c.stats.countDecision(d.Action)

	if d.Action != c.lastAction || c.stats.scansIngested.Load() == 1 {
		monitoring.Logf("[controller] Action update: %s (F:%.2f)", d.Action, d.Summary.Front)
	}
	c.lastAction = d.Action

	stamp := msg.Header.Stamp.Time()
	c.last.store(&LastScan{
		Stamp:    stamp,
		FrameID:  msg.Header.FrameID,
		RangeMax: msg.RangeMax,
		Ranges:   append([]float64(nil), msg.Ranges...),
		Decision: d,
		Received: c.clock.Now(),
	})
	if c.recorder != nil {
		c.recorder.Record(stamp, msg.Header.FrameID, d)
	}
	return d, true
}

func (c *Controller) drop(err error) {
	n := c.stats.scansDropped.Add(1)
	if n%100 == 1 {
		kind := "malformed"
		if errors.Is(err, scan.ErrShortScan) {
			kind = "short"
		}
		monitoring.Logf("[controller] dropped %s scan (%d dropped so far): %v", kind, n, err)
	}
}
