package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/reflex/internal/command"
	"github.com/banshee-data/reflex/internal/monitoring"
	"github.com/banshee-data/reflex/internal/rosmsg"
	"github.com/banshee-data/reflex/internal/timeutil"
	"github.com/banshee-data/reflex/internal/transport"
)

// PublishObserver is told about every command that reached the transport.
type PublishObserver func(tick uint64, cmd rosmsg.Twist, sent time.Time)

// Actuator publishes the command register on a fixed period, whether or not
// anything has changed since the last tick.
type Actuator struct {
	State *command.State
	Pub   transport.Publication
	Clock timeutil.Clock

	// Period is the tick interval.
	Period time.Duration
	// PublishTimeout bounds one publish so a stuck send cannot eat into the
	// next tick. Zero means Period.
	PublishTimeout time.Duration

	// OnPublish, if set, is called after each successful publish.
	OnPublish PublishObserver

	Stats *Stats
}

// Run ticks until ctx is cancelled or lost is closed. Cancellation is
// cooperative: a tick in progress finishes before Run returns nil. Losing
// the transport returns an error wrapping transport.ErrDisconnected.
func (a *Actuator) Run(ctx context.Context, lost <-chan struct{}) error {
	clock := a.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if a.Stats == nil {
		a.Stats = &Stats{}
	}
	timeout := a.PublishTimeout
	if timeout <= 0 || timeout > a.Period {
		timeout = a.Period
	}

	ticker := clock.NewTicker(a.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lost:
			return fmt.Errorf("actuator stopped: %w", transport.ErrDisconnected)
		case <-ticker.C():
			if err := a.tick(ctx, clock, timeout); err != nil {
				return err
			}
		}
	}
}

// tick publishes one command. Only a lost transport is returned; any other
// failure is counted and left for the next tick to make up.
func (a *Actuator) tick(ctx context.Context, clock timeutil.Clock, timeout time.Duration) error {
	// Only this loop writes ticks; the count lands once the tick is done.
	n := a.Stats.ticks.Load() + 1
	defer a.Stats.ticks.Add(1)

	v := a.State.Read()
	cmd := rosmsg.NewTwist(v.Linear, v.Angular)

	// The publish runs to its own deadline even if shutdown starts mid-tick.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := a.Pub.Publish(pctx, cmd); err != nil {
		if errors.Is(err, transport.ErrDisconnected) {
			return fmt.Errorf("publish on tick %d: %w", n, err)
		}
		if a.Stats.publishFailures.Add(1)%50 == 1 {
			monitoring.Logf("[actuator] publish failed on tick %d (%d failures so far): %v", n, a.Stats.publishFailures.Load(), err)
		}
		return nil
	}
	if a.OnPublish != nil {
		a.OnPublish(n, cmd, clock.Now())
	}
	return nil
}
