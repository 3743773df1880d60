package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func TestValve(t *testing.T) {
	t.Run("request rate", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		v := MakeValve(10, clock)
		for i := 0; i < 10; i++ {
			assert.True(t, v.AllowRequest())
		}
		assert.False(t, v.AllowRequest())

		clock.now = clock.now.Add(100 * time.Millisecond)
		assert.True(t, v.AllowRequest())
		assert.False(t, v.AllowRequest())

		clock.now = clock.now.Add(10 * time.Second)
		for i := 0; i < 10; i++ {
			assert.True(t, v.AllowRequest())
		}
		assert.False(t, v.AllowRequest(), "bursts are capped")
	})

	t.Run("fractional rate", func(t *testing.T) {
		clock := &fakeClock{now: time.Unix(0, 0)}
		v := MakeValve(0.5, clock)
		assert.True(t, v.AllowRequest())
		assert.False(t, v.AllowRequest())
		clock.now = clock.now.Add(2 * time.Second)
		assert.True(t, v.AllowRequest())
	})

	t.Run("traffic", func(t *testing.T) {
		v := MakeValve(1, &fakeClock{})
		v.AddRx(100)
		v.AddRx(20)
		v.AddTx(7)
		assert.EqualValues(t, 120, v.GetRx())
		assert.EqualValues(t, 7, v.GetTx())
		rx, tx := v.Nullify()
		assert.EqualValues(t, 120, rx)
		assert.EqualValues(t, 7, tx)
		assert.Zero(t, v.GetRx())
		assert.Zero(t, v.GetTx())
	})
}
