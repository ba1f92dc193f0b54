package scan

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/banshee-data/reflex/internal/monitoring"
	"github.com/banshee-data/reflex/internal/rosmsg"
	"github.com/banshee-data/reflex/internal/timeutil"
)

// Pattern is one of the canned obstacle layouts the synthetic source emits.
type Pattern string

const (
	PatternFrontWall Pattern = "front_wall"
	PatternLeftWall  Pattern = "left_wall"
	PatternRightWall Pattern = "right_wall"
	PatternEmpty     Pattern = "empty"
)

// Patterns lists every pattern in the order a cycling source visits them.
var Patterns = []Pattern{PatternFrontWall, PatternLeftWall, PatternRightWall, PatternEmpty}

// ParsePattern validates a pattern name.
func ParsePattern(name string) (Pattern, error) {
	for _, p := range Patterns {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown scan pattern %q", name)
}

// Wedge is a run of samples set to the wall distance: Center±HalfWidth
// inclusive, so a 40° wall covers 41 samples.
type Wedge struct {
	Center    int
	HalfWidth int
}

// Synthetic scan geometry.
const (
	SyntheticWallRange = 0.4
	SyntheticRangeMin  = 0.12
	SyntheticRangeMax  = 3.5
)

// Side walls sit on the window that has to read short for each pattern to
// steer the way its name says: left_wall blocks the right window (index 270)
// so the robot turns left, and right_wall blocks the left window.
var patternWedges = map[Pattern][]Wedge{
	PatternFrontWall: {{Center: 0, HalfWidth: 20}},
	PatternLeftWall:  {{Center: 0, HalfWidth: 20}, {Center: 270, HalfWidth: 15}},
	PatternRightWall: {{Center: 0, HalfWidth: 20}, {Center: 90, HalfWidth: 15}},
	PatternEmpty:     nil,
}

// SyntheticRanges builds the 360-sample ranges for p: every sample at
// SyntheticRangeMax except the pattern's wedges at SyntheticWallRange.
func SyntheticRanges(p Pattern) []float64 {
	ranges := make([]float64, Size)
	for i := range ranges {
		ranges[i] = SyntheticRangeMax
	}
	for _, w := range patternWedges[p] {
		for off := -w.HalfWidth; off <= w.HalfWidth; off++ {
			idx := ((w.Center+off)%Size + Size) % Size
			ranges[idx] = SyntheticWallRange
		}
	}
	return ranges
}

// Publisher accepts outbound messages.
type Publisher interface {
	Publish(ctx context.Context, msg any) error
}

// SyntheticSource periodically emits LaserScan messages built from the
// canned patterns, either fixed on one pattern or cycling through all of
// them.
type SyntheticSource struct {
	// Pattern fixes the emitted pattern. Empty means cycle through Patterns.
	Pattern Pattern
	// Period is the interval between scans.
	Period time.Duration
	// Clock drives the emission ticker. Defaults to the wall clock.
	Clock timeutil.Clock

	seq atomic.Uint64
}

// NewSyntheticSource returns a source emitting pattern every period.
func NewSyntheticSource(pattern Pattern, period time.Duration) *SyntheticSource {
	return &SyntheticSource{
		Pattern: pattern,
		Period:  period,
		Clock:   timeutil.RealClock{},
	}
}

// Next returns the next scan message.
func (s *SyntheticSource) Next() rosmsg.LaserScan {
	n := s.seq.Add(1) - 1
	p := s.Pattern
	if p == "" {
		p = Patterns[n%uint64(len(Patterns))]
	}
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	return rosmsg.LaserScan{
		Header: rosmsg.Header{
			Stamp:   rosmsg.NewTime(clock.Now()),
			FrameID: string(p),
		},
		AngleMin:       0,
		AngleMax:       2 * math.Pi * float64(Size-1) / Size,
		AngleIncrement: 2 * math.Pi / Size,
		RangeMin:       SyntheticRangeMin,
		RangeMax:       SyntheticRangeMax,
		Ranges:         SyntheticRanges(p),
	}
}

// Run publishes one scan per period until ctx is cancelled. Publish errors
// are logged and the source keeps going.
func (s *SyntheticSource) Run(ctx context.Context, pub Publisher) error {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(s.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			msg := s.Next()
			if err := pub.Publish(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				monitoring.Logf("[synthetic] publish %s failed: %v", msg.Header.FrameID, err)
			}
		}
	}
}
