// Package countdown implements the per-client local countdown. Each
// connected side runs its own wall-clock countdown once the shared start
// signal is observed; resynchronization happens only through explicit reset
// writes, never tick-by-tick position syncing.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Countdown is a restartable one-second-resolution timer. Zero value is not
// usable; call New.
type Countdown struct {
	clock    clockwork.Clock
	onTick   func(remaining int)
	onExpire func()

	mu        sync.Mutex
	remaining int
	stop      chan struct{}
	running   bool
}

// New creates a stopped countdown. Either callback may be nil. Callbacks are
// invoked from the countdown's goroutine, one at a time.
func New(clock clockwork.Clock, onTick func(remaining int), onExpire func()) *Countdown {
	return &Countdown{
		clock:    clock,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// Start begins counting down from the given number of seconds, replacing any
// countdown already running.
func (c *Countdown) Start(seconds int) {
	c.mu.Lock()
	c.stopLocked()
	if seconds <= 0 {
		c.remaining = 0
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.stop = stop
	c.running = true
	c.remaining = seconds
	c.mu.Unlock()

	go c.run(stop)
}

// Reset is Start under the name the reset protocol uses: both sides restart
// their own countdown from the authoritative value observed in the session.
func (c *Countdown) Reset(seconds int) { c.Start(seconds) }

// Stop halts the countdown. Safe to call when already stopped.
func (c *Countdown) Stop() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
}

func (c *Countdown) stopLocked() {
	if c.running {
		close(c.stop)
		c.running = false
	}
}

// Remaining returns the seconds left, 0 when stopped or expired.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Running reports whether the countdown is counting.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Countdown) run(stop chan struct{}) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			c.mu.Lock()
			if !c.running || c.stop != stop {
				c.mu.Unlock()
				return
			}
			c.remaining--
			remaining := c.remaining
			expired := remaining <= 0
			if expired {
				c.stopLocked()
			}
			c.mu.Unlock()

			if c.onTick != nil {
				c.onTick(remaining)
			}
			if expired {
				if c.onExpire != nil {
					c.onExpire()
				}
				return
			}
		}
	}
}
