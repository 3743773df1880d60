package common

import (
	"crypto/rand"
	"io"
	"time"
)

var RealWorldState = WorldState{
	Rand: rand.Reader,
	Now:  time.Now,
}

// WorldState holds everything the protocol reads from the outside world apart from the network: wall clock time
// for token timestamps and randomness for keys and nonces
type WorldState struct {
	Rand io.Reader
	Now  func() time.Time
}

func WorldOfTime(t time.Time) WorldState {
	return WorldState{
		Rand: rand.Reader,
		Now:  func() time.Time { return t },
	}
}

// Valid reports whether both fields are set
func (w WorldState) Valid() bool {
	return w.Rand != nil && w.Now != nil
}

// Clock adapts a WorldState to the clock interface expected by rate limiters
type Clock struct {
	World WorldState
}

func (c Clock) Now() time.Time { return c.World.Now() }

func (c Clock) Sleep(d time.Duration) { time.Sleep(d) }
