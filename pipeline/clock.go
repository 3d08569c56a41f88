package pipeline

import (
	"sync"
	"time"

	"github.com/zsiec/mediagraph/media"
)

// Clock is a monotonic nanosecond time source.
type Clock interface {
	// Now returns the current clock time.
	Now() media.ClockTime
	// WaitUntil blocks until Now() >= t or cancel is closed. It reports
	// whether t was reached.
	WaitUntil(t media.ClockTime, cancel <-chan struct{}) bool
}

// SystemClock follows the monotonic wall clock.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock returns a clock whose zero is the moment of creation.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

// Now implements Clock.
func (c *SystemClock) Now() media.ClockTime {
	return media.FromDuration(time.Since(c.epoch))
}

// WaitUntil implements Clock.
func (c *SystemClock) WaitUntil(t media.ClockTime, cancel <-chan struct{}) bool {
	for {
		now := c.Now()
		if now >= t {
			return true
		}
		timer := time.NewTimer((t - now).Duration())
		select {
		case <-timer.C:
		case <-cancel:
			timer.Stop()
			return false
		}
	}
}

// ManualClock only moves when told to. It makes clock-synchronised tests
// deterministic.
type ManualClock struct {
	mu   sync.Mutex
	now  media.ClockTime
	tick chan struct{}
}

// NewManualClock returns a clock stopped at zero.
func NewManualClock() *ManualClock {
	return &ManualClock{tick: make(chan struct{})}
}

// Now implements Clock.
func (c *ManualClock) Now() media.ClockTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and wakes waiters.
func (c *ManualClock) Advance(d media.ClockTime) {
	c.mu.Lock()
	c.now += d
	close(c.tick)
	c.tick = make(chan struct{})
	c.mu.Unlock()
}

// Set moves the clock to t if t is later than the current time.
func (c *ManualClock) Set(t media.ClockTime) {
	c.mu.Lock()
	if t > c.now {
		c.now = t
		close(c.tick)
		c.tick = make(chan struct{})
	}
	c.mu.Unlock()
}

// WaitUntil implements Clock.
func (c *ManualClock) WaitUntil(t media.ClockTime, cancel <-chan struct{}) bool {
	for {
		c.mu.Lock()
		if c.now >= t {
			c.mu.Unlock()
			return true
		}
		tick := c.tick
		c.mu.Unlock()
		select {
		case <-tick:
		case <-cancel:
			return false
		}
	}
}

// runningClock tracks a pipeline's running time: clock time minus base
// time while PLAYING, frozen otherwise.
type runningClock struct {
	mu      sync.Mutex
	clock   Clock
	base    media.ClockTime
	paused  media.ClockTime
	playing bool
}

func (r *runningClock) setClock(c Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = c
}

func (r *runningClock) get() Clock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock
}

// play starts the running time advancing from where it was frozen.
func (r *runningClock) play() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	if now >= r.paused {
		r.base = now - r.paused
	} else {
		r.base = 0
	}
	r.playing = true
}

// pause freezes the running time.
func (r *runningClock) pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playing {
		r.paused = r.clock.Now() - r.base
	}
	r.playing = false
}

// reset restarts the running time at zero.
func (r *runningClock) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = 0
	if r.playing {
		r.base = r.clock.Now()
	}
}

func (r *runningClock) runningTime() media.ClockTime {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.playing {
		return r.paused
	}
	return r.clock.Now() - r.base
}

func (r *runningClock) baseTime() (media.ClockTime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.base, r.playing
}
