// Package command holds the shared velocity register that decouples scan
// ingestion from the actuator loop.
package command

import (
	"sync"
	"time"
)

// Default velocity: drive straight ahead.
const (
	DefaultLinear  = 0.2
	DefaultAngular = 0.0
)

// Velocity is a planar velocity command: forward speed in m/s and yaw rate
// in rad/s.
type Velocity struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// State is the command register. Ingestion writes the latest decision into
// it and the actuator loop reads a snapshot every tick. Both fields change
// together under one lock, so a reader never sees one write's linear paired
// with another write's angular. Writes overwrite; nothing is queued.
type State struct {
	mu      sync.RWMutex
	v       Velocity
	writes  uint64
	updated time.Time
}

// NewState returns a register holding the default forward velocity.
func NewState() *State {
	return NewStateWith(Velocity{Linear: DefaultLinear, Angular: DefaultAngular})
}

// NewStateWith returns a register holding v.
func NewStateWith(v Velocity) *State {
	return &State{v: v}
}

// Write replaces the held velocity.
func (s *State) Write(linear, angular float64) {
	s.mu.Lock()
	s.v = Velocity{Linear: linear, Angular: angular}
	s.writes++
	s.updated = time.Now()
	s.mu.Unlock()
}

// Read returns a consistent snapshot of the held velocity.
func (s *State) Read() Velocity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Snapshot is the register contents plus write bookkeeping, for diagnostics.
type Snapshot struct {
	Velocity
	Writes  uint64    `json:"writes"`
	Updated time.Time `json:"updated"`
}

// Snapshot returns the velocity along with how many writes have landed and
// when the last one did. Updated is zero until the first write.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Velocity: s.v, Writes: s.writes, Updated: s.updated}
}
