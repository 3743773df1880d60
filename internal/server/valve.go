package server

import (
	"math"
	"sync/atomic"

	"github.com/juju/ratelimit"
)

// Valve meters a server's traffic and throttles the connection requests it is willing to decrypt.
// rx is from client to server, tx is from server to client.
type Valve struct {
	requests *ratelimit.Bucket

	rx int64
	tx int64
}

// MakeValve allows requestRate connection requests per second with bursts of the same size, measured on clock
func MakeValve(requestRate float64, clock ratelimit.Clock) *Valve {
	capacity := int64(math.Ceil(requestRate))
	if capacity < 1 {
		capacity = 1
	}
	return &Valve{requests: ratelimit.NewBucketWithRateAndClock(requestRate, capacity, clock)}
}

// AllowRequest takes one connection request from the bucket without waiting
func (v *Valve) AllowRequest() bool { return v.requests.TakeAvailable(1) == 1 }

func (v *Valve) AddRx(n int64) { atomic.AddInt64(&v.rx, n) }
func (v *Valve) AddTx(n int64) { atomic.AddInt64(&v.tx, n) }
func (v *Valve) GetRx() int64  { return atomic.LoadInt64(&v.rx) }
func (v *Valve) GetTx() int64  { return atomic.LoadInt64(&v.tx) }

// Nullify resets both counters and returns what they were
func (v *Valve) Nullify() (int64, int64) {
	rx := atomic.SwapInt64(&v.rx, 0)
	tx := atomic.SwapInt64(&v.tx, 0)
	return rx, tx
}
