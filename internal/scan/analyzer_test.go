package scan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform(v float64) []float64 {
	r := make([]float64, Size)
	for i := range r {
		r[i] = v
	}
	return r
}

func fill(r []float64, w Window, v float64) {
	for i := w.Start; i < w.End; i++ {
		r[i] = v
	}
}

func TestAnalyze_ShortScan(t *testing.T) {
	for _, n := range []int{0, 1, 180, Size - 1} {
		_, ok := Analyze(make([]float64, n))
		assert.False(t, ok, "len %d should not produce a decision", n)
	}

	_, err := Summarize(make([]float64, 10))
	assert.ErrorIs(t, err, ErrShortScan)
}

func TestAnalyze_LongScanUsesFirst360(t *testing.T) {
	r := append(uniform(3.0), 0.1, 0.1, 0.1)
	d, ok := Analyze(r)
	require.True(t, ok)
	assert.Equal(t, GoForward, d.Action)
}

func TestSummarize_Windows(t *testing.T) {
	r := uniform(9)
	for i := 350; i < 360; i++ {
		r[i] = 1
	}
	for i := 0; i < 10; i++ {
		r[i] = 3
	}
	fill(r, LeftWindow, 4)
	fill(r, RightWindow, 5)

	s, err := Summarize(r)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, s.Front, 1e-9)
	assert.InDelta(t, 4.0, s.Left, 1e-9)
	assert.InDelta(t, 5.0, s.Right, 1e-9)
}

func TestSummarize_WindowEdgesExcluded(t *testing.T) {
	r := uniform(1)
	// Samples just outside each window must not move the means.
	for _, i := range []int{10, 349, 79, 100, 259, 280} {
		r[i] = 100
	}
	s, err := Summarize(r)
	require.NoError(t, err)
	assert.Equal(t, Summary{Front: 1, Left: 1, Right: 1}, s)
}

func TestDecide(t *testing.T) {
	a := NewAnalyzer(DefaultParams())
	tests := []struct {
		name    string
		summary Summary
		action  Action
		angular float64
	}{
		{"open ahead", Summary{Front: 2, Left: 0.1, Right: 3}, GoForward, 0},
		{"exactly safe distance is open", Summary{Front: 0.6, Left: 1, Right: 2}, GoForward, 0},
		{"blocked, left wider", Summary{Front: 0.3, Left: 2, Right: 1}, TurnLeft, 1.0},
		{"blocked, right wider", Summary{Front: 0.3, Left: 1, Right: 2}, TurnRight, -1.0},
		{"blocked, tie goes right", Summary{Front: 0.3, Left: 1.5, Right: 1.5}, TurnRight, -1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := a.Decide(tt.summary)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, DefaultCruiseLinear, d.Linear)
			assert.Equal(t, tt.angular, d.Angular)
			assert.Equal(t, tt.summary, d.Summary)
		})
	}
}

func TestAnalyze_TieBreakFromScan(t *testing.T) {
	r := uniform(2)
	for i := 350; i < 360; i++ {
		r[i] = 0.2
	}
	for i := 0; i < 10; i++ {
		r[i] = 0.2
	}
	d, ok := Analyze(r)
	require.True(t, ok)
	require.Equal(t, d.Summary.Left, d.Summary.Right)
	assert.Equal(t, TurnRight, d.Action)
	assert.Equal(t, -1.0, d.Angular)
}

func TestAnalyze_InfiniteSamplesReadAsFar(t *testing.T) {
	r := uniform(0.3)
	r[0] = math.Inf(1)
	d, ok := Analyze(r)
	require.True(t, ok)
	assert.True(t, math.IsInf(d.Summary.Front, 1))
	assert.Equal(t, GoForward, d.Action)
}

func TestAnalyze_Deterministic(t *testing.T) {
	r := SyntheticRanges(PatternLeftWall)
	first, ok := Analyze(r)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		d, _ := Analyze(r)
		assert.Equal(t, first, d)
	}
}

func TestAnalyzer_CustomParams(t *testing.T) {
	a := NewAnalyzer(Params{SafeDistance: 1.0, CruiseLinear: 0.5, TurnAngular: 2})
	d := a.Decide(Summary{Front: 0.8, Left: 3, Right: 1})
	assert.Equal(t, TurnLeft, d.Action)
	assert.Equal(t, 0.5, d.Linear)
	assert.Equal(t, 2.0, d.Angular)
	assert.Equal(t, 1.0, a.Params().SafeDistance)
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "go_forward", GoForward.String())
	assert.Equal(t, "turn_left", TurnLeft.String())
	assert.Equal(t, "turn_right", TurnRight.String())
	assert.Equal(t, "action(7)", Action(7).String())
}
