// Package scan turns a 360-sample ranging scan into a steering decision.
//
// Analysis is a pure function of the scan: three fixed angular windows are
// averaged into a DirectionalSummary, and the summary is compared against a
// safe distance to choose between going forward and turning toward the more
// open side. Nothing here holds state or performs I/O.
package scan

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Size is the number of samples a scan must carry to be analysed. Each index
// is one whole degree from the zero heading.
const Size = 360

// ErrShortScan reports a scan with fewer than Size samples.
var ErrShortScan = errors.New("scan shorter than 360 samples")

// Default tuning.
const (
	DefaultSafeDistance = 0.6 // metres
	DefaultCruiseLinear = 0.2 // m/s
	DefaultTurnAngular  = 1.0 // rad/s
)

// Window is a half-open index range [Start, End) into a scan.
type Window struct {
	Start, End int
}

// Directional windows, in scan indices. Front wraps around the zero heading.
var (
	FrontWindows = []Window{{350, 360}, {0, 10}}
	LeftWindow   = Window{80, 100}
	RightWindow  = Window{260, 280}
)

// Action is the steering choice made for a scan.
type Action int

const (
	GoForward Action = iota
	TurnLeft
	TurnRight
)

func (a Action) String() string {
	switch a {
	case GoForward:
		return "go_forward"
	case TurnLeft:
		return "turn_left"
	case TurnRight:
		return "turn_right"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Summary holds the mean distance seen in each directional window.
type Summary struct {
	Front, Left, Right float64
}

// Decision is an action together with the velocity pair it commands.
type Decision struct {
	Action  Action
	Linear  float64
	Angular float64
	Summary Summary
}

// Params are the thresholds and speeds an Analyzer decides with.
type Params struct {
	SafeDistance float64
	CruiseLinear float64
	TurnAngular  float64
}

// DefaultParams returns the stock tuning.
func DefaultParams() Params {
	return Params{
		SafeDistance: DefaultSafeDistance,
		CruiseLinear: DefaultCruiseLinear,
		TurnAngular:  DefaultTurnAngular,
	}
}

// Analyzer maps scans to decisions. The zero value is not useful; build one
// with NewAnalyzer or use the package-level Analyze.
type Analyzer struct {
	params Params
}

// NewAnalyzer returns an Analyzer using p.
func NewAnalyzer(p Params) Analyzer {
	return Analyzer{params: p}
}

// Params returns the analyzer's tuning.
func (a Analyzer) Params() Params {
	return a.params
}

var defaultAnalyzer = NewAnalyzer(DefaultParams())

// Analyze runs the default analyzer.
func Analyze(ranges []float64) (Decision, bool) {
	return defaultAnalyzer.Analyze(ranges)
}

// Analyze returns the decision for ranges, or false when the scan is too
// short to analyse.
//
// Samples are averaged as-is: infinite or max-range readings pull a window
// toward "far", which biases the choice toward going forward.
func (a Analyzer) Analyze(ranges []float64) (Decision, bool) {
	s, err := Summarize(ranges)
	if err != nil {
		return Decision{}, false
	}
	return a.Decide(s), true
}

// Decide applies the decision rule to a summary. Order matters: the front
// check comes first, and a left/right tie resolves to TurnRight.
func (a Analyzer) Decide(s Summary) Decision {
	d := Decision{Summary: s, Linear: a.params.CruiseLinear}
	switch {
	case s.Front < a.params.SafeDistance && s.Left > s.Right:
		d.Action = TurnLeft
		d.Angular = a.params.TurnAngular
	case s.Front < a.params.SafeDistance:
		d.Action = TurnRight
		d.Angular = -a.params.TurnAngular
	default:
		d.Action = GoForward
	}
	return d
}

// Summarize averages the front, left and right windows of ranges.
func Summarize(ranges []float64) (Summary, error) {
	if len(ranges) < Size {
		return Summary{}, fmt.Errorf("%w: got %d", ErrShortScan, len(ranges))
	}

	front := make([]float64, 0, 20)
	for _, w := range FrontWindows {
		front = append(front, ranges[w.Start:w.End]...)
	}

	return Summary{
		Front: stat.Mean(front, nil),
		Left:  stat.Mean(ranges[LeftWindow.Start:LeftWindow.End], nil),
		Right: stat.Mean(ranges[RightWindow.Start:RightWindow.End], nil),
	}, nil
}
