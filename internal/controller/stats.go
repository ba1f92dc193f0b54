package controller

import (
	"sync/atomic"

	"github.com/banshee-data/reflex/internal/scan"
)

// Stats counts what the controller has done. All fields are safe for
// concurrent use.
type Stats struct {
	scansIngested   atomic.Uint64
	scansDropped    atomic.Uint64
	goForward       atomic.Uint64
	turnLeft        atomic.Uint64
	turnRight       atomic.Uint64
	ticks           atomic.Uint64
	publishFailures atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	ScansIngested   uint64            `json:"scans_ingested"`
	ScansDropped    uint64            `json:"scans_dropped"`
	Decisions       map[string]uint64 `json:"decisions"`
	Ticks           uint64            `json:"ticks"`
	PublishFailures uint64            `json:"publish_failures"`
}

func (s *Stats) countDecision(a scan.Action) {
	switch a {
	case scan.GoForward:
		s.goForward.Add(1)
	case scan.TurnLeft:
		s.turnLeft.Add(1)
	case scan.TurnRight:
		s.turnRight.Add(1)
	}
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		ScansIngested: s.scansIngested.Load(),
		ScansDropped:  s.scansDropped.Load(),
		Decisions: map[string]uint64{
			scan.GoForward.String(): s.goForward.Load(),
			scan.TurnLeft.String():  s.turnLeft.Load(),
			scan.TurnRight.String(): s.turnRight.Load(),
		},
		Ticks:           s.ticks.Load(),
		PublishFailures: s.publishFailures.Load(),
	}
}
