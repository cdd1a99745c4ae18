package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Countdown produces a once-per-second decrementing display value and fires a
// single terminal callback at zero. It is a visual approximation only: the
// server's question_end event is the authoritative end-of-question signal.
//
// Start always cancels any previous tick sequence, so tick loops are never
// stacked. Pause freezes the displayed value without firing the terminal
// callback.
type Countdown struct {
	clock    clockwork.Clock
	onTick   func(remaining int)
	onExpire func()

	mu        sync.Mutex
	remaining int
	paused    bool
	stop      chan struct{}
}

// NewCountdown builds a countdown delivering ticks and the terminal signal to
// the given callbacks. Callbacks are always invoked off the caller's
// goroutine, without the countdown lock held.
func NewCountdown(clock clockwork.Clock, onTick func(remaining int), onExpire func()) *Countdown {
	return &Countdown{clock: clock, onTick: onTick, onExpire: onExpire}
}

// Start resets the countdown to the given duration and begins ticking.
func (c *Countdown) Start(seconds int) {
	c.mu.Lock()
	c.cancelLocked()
	c.remaining = seconds
	c.paused = false
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	if seconds <= 0 {
		if c.onExpire != nil {
			// Callers may hold their own locks while starting; the terminal
			// callback never runs inline.
			go c.onExpire()
		}
		return
	}
	go c.run(stop)
}

// Pause freezes the displayed value. The tick loop keeps running so a later
// Start fully replaces it, but no further ticks or expiry are delivered.
func (c *Countdown) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Stop terminates the tick sequence without firing the terminal callback.
func (c *Countdown) Stop() {
	c.mu.Lock()
	c.cancelLocked()
	c.mu.Unlock()
}

// Remaining returns the current displayed value in seconds.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) cancelLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *Countdown) run(stop chan struct{}) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
		}
		// A tick racing the stop signal must not outlive the cancellation.
		select {
		case <-stop:
			return
		default:
		}

		c.mu.Lock()
		if c.paused {
			c.mu.Unlock()
			continue
		}
		if c.remaining > 0 {
			c.remaining--
		}
		remaining := c.remaining
		c.mu.Unlock()

		if c.onTick != nil {
			c.onTick(remaining)
		}
		if remaining <= 0 {
			if c.onExpire != nil {
				c.onExpire()
			}
			return
		}
	}
}
