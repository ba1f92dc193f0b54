package command

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewState_DefaultsToForward(t *testing.T) {
	s := NewState()
	assert.Equal(t, Velocity{Linear: 0.2, Angular: 0.0}, s.Read())

	snap := s.Snapshot()
	assert.Zero(t, snap.Writes)
	assert.True(t, snap.Updated.IsZero())
}

func TestState_WriteRead(t *testing.T) {
	s := NewState()
	s.Write(0.2, 1.0)
	assert.Equal(t, Velocity{Linear: 0.2, Angular: 1.0}, s.Read())

	s.Write(0.2, -1.0)
	assert.Equal(t, Velocity{Linear: 0.2, Angular: -1.0}, s.Read())

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Writes)
	assert.False(t, snap.Updated.IsZero())
}

func TestState_RepeatedWriteIsStable(t *testing.T) {
	s := NewState()
	for i := 0; i < 100; i++ {
		s.Write(0.2, -1.0)
		assert.Equal(t, Velocity{Linear: 0.2, Angular: -1.0}, s.Read())
	}
}

// Writers alternate between two pairs whose fields never mix: any snapshot
// that combines one pair's linear with the other's angular is torn.
func TestState_NoTornReads(t *testing.T) {
	s := NewStateWith(Velocity{Linear: 1, Angular: 1})
	a := Velocity{Linear: 1, Angular: 1}
	b := Velocity{Linear: 2, Angular: -2}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				s.Write(a.Linear, a.Angular)
			} else {
				s.Write(b.Linear, b.Angular)
			}
		}
	}()

	for i := 0; i < 20000; i++ {
		v := s.Read()
		if v != a && v != b {
			close(stop)
			wg.Wait()
			t.Fatalf("torn read: %+v", v)
		}
	}
	close(stop)
	wg.Wait()
}
