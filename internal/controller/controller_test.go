package controller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/reflex/internal/command"
	"github.com/banshee-data/reflex/internal/config"
	"github.com/banshee-data/reflex/internal/rosmsg"
	"github.com/banshee-data/reflex/internal/scan"
	"github.com/banshee-data/reflex/internal/timeutil"
	"github.com/banshee-data/reflex/internal/transport"
	"github.com/banshee-data/reflex/internal/transport/loopback"
)

const (
	scanTopic = "/scan"
	cmdTopic  = "/turtle1/cmd_vel"
	period    = 100 * time.Millisecond
)

var epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	t     *testing.T
	bus   *loopback.Bus
	clock *timeutil.MockClock
	ctrl  *Controller

	cancel   context.CancelFunc
	errc     chan error
	finished chan struct{}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	bus := loopback.NewBus()
	clock := timeutil.NewMockClock(epoch)
	opts.Clock = clock
	return &harness{t: t, bus: bus, clock: clock, ctrl: New(bus, opts)}
}

// start runs the controller and waits until its ticker is armed.
func (h *harness) start() {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.errc = make(chan error, 1)
	h.finished = make(chan struct{})
	go func() {
		h.errc <- h.ctrl.Run(ctx)
		close(h.finished)
	}()
	require.Eventually(h.t, func() bool { return h.clock.TickerCount() == 1 }, 2*time.Second, time.Millisecond)
	h.t.Cleanup(func() {
		cancel()
		select {
		case <-h.finished:
		case <-time.After(2 * time.Second):
		}
	})
}

// tick advances one period and waits for the actuator to handle it.
func (h *harness) tick() {
	h.t.Helper()
	before := h.ctrl.Stats().Ticks
	h.clock.Advance(period)
	require.Eventually(h.t, func() bool { return h.ctrl.Stats().Ticks == before+1 }, 2*time.Second, time.Millisecond)
}

func (h *harness) stop() error {
	h.t.Helper()
	h.cancel()
	select {
	case err := <-h.errc:
		return err
	case <-time.After(2 * time.Second):
		h.t.Fatal("controller did not stop")
		return nil
	}
}

func (h *harness) published() []rosmsg.Twist {
	h.t.Helper()
	var out []rosmsg.Twist
	for _, raw := range h.bus.Published(cmdTopic) {
		var tw rosmsg.Twist
		require.NoError(h.t, json.Unmarshal(raw, &tw))
		out = append(out, tw)
	}
	return out
}

func scanMsg(p scan.Pattern) rosmsg.LaserScan {
	src := scan.NewSyntheticSource(p, period)
	src.Clock = timeutil.NewMockClock(epoch)
	return src.Next()
}

func TestRun_PublishesDefaultWithoutScans(t *testing.T) {
	h := newHarness(t, Options{})
	h.start()

	for i := 0; i < 5; i++ {
		h.tick()
	}
	got := h.published()
	require.Len(t, got, 5)
	for _, tw := range got {
		assert.Equal(t, rosmsg.NewTwist(0.2, 0.0), tw)
	}
	require.NoError(t, h.stop())
}

func TestRun_ConnectFailureNeverStartsActuator(t *testing.T) {
	h := newHarness(t, Options{})
	h.bus.ConnectErr = errors.New("dial tcp 127.0.0.1:9090: connection refused")

	err := h.ctrl.Run(context.Background())
	require.ErrorIs(t, err, ErrConnection)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 0, h.clock.TickerCount())
	assert.Empty(t, h.bus.Published(cmdTopic))
}

func TestRun_ScanChangesPublishedCommand(t *testing.T) {
	h := newHarness(t, Options{})
	h.start()

	h.tick()
	require.NoError(t, h.bus.Inject(scanTopic, scanMsg(scan.PatternLeftWall)))
	require.Eventually(t, func() bool { return h.ctrl.State().Read().Angular == 1.0 }, 2*time.Second, time.Millisecond)
	h.tick()

	got := h.published()
	require.Len(t, got, 2)
	assert.Equal(t, rosmsg.NewTwist(0.2, 0.0), got[0])
	assert.Equal(t, rosmsg.NewTwist(0.2, 1.0), got[1])
	require.NoError(t, h.stop())
}

func TestRun_CommandHeldBetweenScans(t *testing.T) {
	h := newHarness(t, Options{})
	h.start()

	require.NoError(t, h.bus.Inject(scanTopic, scanMsg(scan.PatternFrontWall)))
	require.Eventually(t, func() bool { return h.ctrl.Stats().ScansIngested == 1 }, 2*time.Second, time.Millisecond)
	for i := 0; i < 3; i++ {
		h.tick()
	}
	for _, tw := range h.published() {
		assert.Equal(t, rosmsg.NewTwist(0.2, -1.0), tw)
	}
	require.NoError(t, h.stop())
}

func TestRun_TransientPublishFailureRetriedNextTick(t *testing.T) {
	h := newHarness(t, Options{})
	h.bus.FailNextPublish(context.DeadlineExceeded)
	h.start()

	h.tick()
	h.tick()

	assert.Len(t, h.published(), 1)
	s := h.ctrl.Stats()
	assert.Equal(t, uint64(2), s.Ticks)
	assert.Equal(t, uint64(1), s.PublishFailures)
	require.NoError(t, h.stop())
}

func TestRun_DisconnectTerminates(t *testing.T) {
	h := newHarness(t, Options{})
	h.start()
	h.tick()

	h.bus.Disconnect()
	select {
	case err := <-h.errc:
		assert.ErrorIs(t, err, transport.ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("controller kept running after disconnect")
	}
}

func TestRun_PublishDisconnectTerminates(t *testing.T) {
	h := newHarness(t, Options{})
	h.bus.FailNextPublish(transport.ErrDisconnected)
	h.start()

	h.clock.Advance(period)
	select {
	case err := <-h.errc:
		assert.ErrorIs(t, err, transport.ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("controller kept running after a disconnected publish")
	}
}

func TestRun_CancelUnwinds(t *testing.T) {
	h := newHarness(t, Options{})
	h.start()
	assert.Equal(t, 1, h.bus.Subscribers(scanTopic))
	assert.Equal(t, 1, h.bus.Advertised(cmdTopic))

	h.tick()
	require.NoError(t, h.stop())

	assert.Equal(t, 0, h.bus.Subscribers(scanTopic))
	assert.Equal(t, 0, h.bus.Advertised(cmdTopic))
	select {
	case <-h.bus.Done():
	default:
		t.Error("transport not closed")
	}
}

func TestRun_CustomTopicsAndTuning(t *testing.T) {
	cfg := config.EmptyControllerConfig()
	topic := "/cmd_vel"
	cruise := 0.5
	cfg.CommandTopic = &topic
	cfg.CruiseLinear = &cruise

	h := newHarness(t, Options{Config: cfg})
	h.start()
	h.tick()
	require.NoError(t, h.stop())

	raw := h.bus.Published("/cmd_vel")
	require.Len(t, raw, 1)
	var tw rosmsg.Twist
	require.NoError(t, json.Unmarshal(raw[0], &tw))
	assert.Equal(t, 0.5, tw.Linear.X)
}

type publishRecord struct {
	tick uint64
	cmd  rosmsg.Twist
	sent time.Time
}

func TestRun_OnPublishObserver(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []publishRecord
	)
	h := newHarness(t, Options{OnPublish: func(tick uint64, cmd rosmsg.Twist, sent time.Time) {
		mu.Lock()
		seen = append(seen, publishRecord{tick, cmd, sent})
		mu.Unlock()
	}})
	h.start()
	h.tick()
	h.tick()
	require.NoError(t, h.stop())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, uint64(1), seen[0].tick)
	assert.Equal(t, uint64(2), seen[1].tick)
	assert.True(t, seen[1].sent.Equal(epoch.Add(2*period)))
}

type fakeRecorder struct {
	mu        sync.Mutex
	decisions []scan.Decision
	frames    []string
}

func (f *fakeRecorder) Record(stamp time.Time, frameID string, d scan.Decision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, d)
	f.frames = append(f.frames, frameID)
}

func TestIngest_PatternDecisions(t *testing.T) {
	tests := []struct {
		pattern scan.Pattern
		want    command.Velocity
	}{
		{scan.PatternEmpty, command.Velocity{Linear: 0.2, Angular: 0.0}},
		{scan.PatternFrontWall, command.Velocity{Linear: 0.2, Angular: -1.0}},
		{scan.PatternLeftWall, command.Velocity{Linear: 0.2, Angular: 1.0}},
		{scan.PatternRightWall, command.Velocity{Linear: 0.2, Angular: -1.0}},
	}
	for _, tt := range tests {
		t.Run(string(tt.pattern), func(t *testing.T) {
			rec := &fakeRecorder{}
			c := New(loopback.NewBus(), Options{Recorder: rec})
			raw, err := json.Marshal(scanMsg(tt.pattern))
			require.NoError(t, err)

			_, ok := c.Ingest(raw)
			require.True(t, ok)
			assert.Equal(t, tt.want, c.State().Read())

			require.Len(t, rec.frames, 1)
			assert.Equal(t, string(tt.pattern), rec.frames[0])
			assert.Equal(t, tt.want.Angular, rec.decisions[0].Angular)

			last := c.LastScan()
			require.NotNil(t, last)
			assert.Len(t, last.Ranges, scan.Size)
		})
	}
}

func TestIngest_ShortAndMalformedLeaveStateUnchanged(t *testing.T) {
	rec := &fakeRecorder{}
	c := New(loopback.NewBus(), Options{Recorder: rec})
	c.State().Write(0.2, 1.0)

	short := scanMsg(scan.PatternFrontWall)
	short.Ranges = short.Ranges[:359]
	shortRaw, err := json.Marshal(short)
	require.NoError(t, err)

	for _, raw := range []json.RawMessage{
		shortRaw,
		json.RawMessage(`{"header":{"frame_id":"laser"}}`),
		json.RawMessage(`{"ranges":"lots"}`),
		json.RawMessage(`[1,2,3]`),
		json.RawMessage(`not json`),
		json.RawMessage(`{"ranges":[]}`),
	} {
		_, ok := c.Ingest(raw)
		assert.False(t, ok, string(raw))
		assert.Equal(t, command.Velocity{Linear: 0.2, Angular: 1.0}, c.State().Read())
	}

	s := c.Stats()
	assert.Equal(t, uint64(6), s.ScansDropped)
	assert.Equal(t, uint64(0), s.ScansIngested)
	assert.Empty(t, rec.decisions)
	assert.Nil(t, c.LastScan())
}

func TestIngest_NullRangesAreFar(t *testing.T) {
	c := New(loopback.NewBus(), Options{})
	msg := scanMsg(scan.PatternEmpty)
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	// rosbridge sends inf as null.
	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	ranges := generic["ranges"].([]any)
	for i := range ranges {
		ranges[i] = nil
	}
	raw, err = json.Marshal(generic)
	require.NoError(t, err)

	d, ok := c.Ingest(raw)
	require.True(t, ok)
	assert.Equal(t, scan.GoForward, d.Action)
}

func TestIngest_Idempotent(t *testing.T) {
	c := New(loopback.NewBus(), Options{})
	raw, err := json.Marshal(scanMsg(scan.PatternRightWall))
	require.NoError(t, err)

	_, ok := c.Ingest(raw)
	require.True(t, ok)
	first := c.State().Read()
	for i := 0; i < 10; i++ {
		c.Ingest(raw)
		assert.Equal(t, first, c.State().Read())
	}
	s := c.Stats()
	assert.Equal(t, uint64(11), s.ScansIngested)
	assert.Equal(t, uint64(11), s.Decisions["turn_right"])
}

func TestIngest_TieBreakTurnsRight(t *testing.T) {
	c := New(loopback.NewBus(), Options{})
	ranges := make([]float64, scan.Size)
	for i := range ranges {
		ranges[i] = 2.0
	}
	for _, w := range scan.FrontWindows {
		for i := w.Start; i < w.End; i++ {
			ranges[i] = 0.3
		}
	}
	raw, err := json.Marshal(rosmsg.LaserScan{Ranges: ranges})
	require.NoError(t, err)

	d, ok := c.Ingest(raw)
	require.True(t, ok)
	assert.Equal(t, d.Summary.Left, d.Summary.Right)
	assert.Equal(t, scan.TurnRight, d.Action)
	assert.Equal(t, command.Velocity{Linear: 0.2, Angular: -1.0}, c.State().Read())
}
