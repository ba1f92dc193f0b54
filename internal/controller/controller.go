// Package controller wires scan ingestion and the actuator loop together
// around one command register.
//
// Two independent drivers run concurrently: scans arrive whenever the
// transport delivers them, and the actuator ticks on a fixed period. They
// share nothing but the command.State, so a stalled sensor only makes the
// command stale; it never stops the robot from being commanded.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/reflex/internal/command"
	"github.com/banshee-data/reflex/internal/config"
	"github.com/banshee-data/reflex/internal/monitoring"
	"github.com/banshee-data/reflex/internal/rosmsg"
	"github.com/banshee-data/reflex/internal/scan"
	"github.com/banshee-data/reflex/internal/timeutil"
	"github.com/banshee-data/reflex/internal/transport"
)

// ErrConnection reports that the transport could not be brought up. The
// actuator is never started when Run returns it.
var ErrConnection = errors.New("connection failure")

// Options configure a Controller. Zero fields take defaults.
type Options struct {
	Config    *config.ControllerConfig
	Clock     timeutil.Clock
	Recorder  DecisionRecorder
	OnPublish PublishObserver
}

// Controller is the composition root: it owns the command register and the
// lifecycle of the transport handles.
type Controller struct {
	transport transport.Transport
	cfg       *config.ControllerConfig
	clock     timeutil.Clock
	analyzer  scan.Analyzer
	state     *command.State
	recorder  DecisionRecorder
	onPublish PublishObserver

	stats      Stats
	last       lastScanBox
	lastAction scan.Action
}

// New returns a controller that will talk over t.
func New(t transport.Transport, opts Options) *Controller {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.EmptyControllerConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Controller{
		transport: t,
		cfg:       cfg,
		clock:     clock,
		analyzer: scan.NewAnalyzer(scan.Params{
			SafeDistance: cfg.GetSafeDistance(),
			CruiseLinear: cfg.GetCruiseLinear(),
			TurnAngular:  cfg.GetTurnAngular(),
		}),
		state:     command.NewStateWith(command.Velocity{Linear: cfg.GetCruiseLinear(), Angular: command.DefaultAngular}),
		recorder:  opts.Recorder,
		onPublish: opts.OnPublish,
	}
}

// State returns the command register.
func (c *Controller) State() *command.State { return c.state }

// Stats returns a copy of the counters.
func (c *Controller) Stats() StatsSnapshot { return c.stats.Snapshot() }

// LastScan returns the last analysed scan, or nil before the first one.
func (c *Controller) LastScan() *LastScan { return c.last.load() }

// Run connects, starts ingestion and the actuator, and blocks until ctx is
// cancelled or the transport is lost. On the way out it unsubscribes,
// unadvertises and closes the transport, in that order.
//
// A cancelled ctx returns nil. A connection failure returns an error
// wrapping ErrConnection; a lost transport returns one wrapping
// transport.ErrDisconnected.
func (c *Controller) Run(ctx context.Context) error {
	scanTopic := c.cfg.GetScanTopic()
	cmdTopic := c.cfg.GetCommandTopic()

	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	pub, err := c.transport.Advertise(cmdTopic, rosmsg.TwistType)
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("%w: advertise %s: %w", ErrConnection, cmdTopic, err)
	}
	sub, err := c.transport.Subscribe(scanTopic, rosmsg.LaserScanType)
	if err != nil {
		pub.Unadvertise()
		c.transport.Close()
		return fmt.Errorf("%w: subscribe %s: %w", ErrConnection, scanTopic, err)
	}
	monitoring.Logf("[controller] subscribed to %s, publishing %s every %s",
		scanTopic, cmdTopic, c.cfg.GetTickPeriod())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.ingestLoop(sub.Messages())
	}()

	act := &Actuator{
		State:          c.state,
		Pub:            pub,
		Clock:          c.clock,
		Period:         c.cfg.GetTickPeriod(),
		PublishTimeout: c.cfg.GetPublishTimeout(),
		OnPublish:      c.onPublish,
		Stats:          &c.stats,
	}
	runErr := act.Run(ctx, c.transport.Done())

	if err := sub.Unsubscribe(); err != nil {
		monitoring.Logf("[controller] unsubscribe %s: %v", scanTopic, err)
	}
	if err := pub.Unadvertise(); err != nil {
		monitoring.Logf("[controller] unadvertise %s: %v", cmdTopic, err)
	}
	if err := c.transport.Close(); err != nil {
		monitoring.Logf("[controller] close transport: %v", err)
	}
	wg.Wait()

	s := c.stats.Snapshot()
	monitoring.Logf("[controller] stopped after %d ticks: %d scans ingested, %d dropped, %d publish failures",
		s.Ticks, s.ScansIngested, s.ScansDropped, s.PublishFailures)
	return runErr
}

// ingestLoop is the single ingestion task. It ends when the subscription
// channel closes.
func (c *Controller) ingestLoop(msgs <-chan json.RawMessage) {
	for raw := range msgs {
		c.Ingest(raw)
	}
}
