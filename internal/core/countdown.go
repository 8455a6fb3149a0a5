package core

import (
	"context"
	"sync/atomic"
	"time"
)

// Remaining is a floor-decomposed duration.
type Remaining struct {
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
	Seconds int64 `json:"seconds"`
}

// Countdown is the derived state of the submission window at one instant.
type Countdown struct {
	Deadline  time.Time `json:"deadline"`
	Remaining Remaining `json:"remaining"`
	Closed    bool      `json:"closed"`
}

// ComputeCountdown is the pure window function. The window is closed once
// deadline-now is negative; components are zero when closed.
func ComputeCountdown(now, deadline time.Time) Countdown {
	if deadline.Before(now) {
		return Countdown{Deadline: deadline, Closed: true}
	}
	totalSeconds := deadline.Sub(now).Milliseconds() / 1000
	return Countdown{
		Deadline: deadline,
		Remaining: Remaining{
			Hours:   totalSeconds / 3600,
			Minutes: (totalSeconds % 3600) / 60,
			Seconds: totalSeconds % 60,
		},
	}
}

// CountdownGate latches the closed flag for a fixed deadline. Once closed it
// stays closed even if a later tick observes an earlier clock.
type CountdownGate struct {
	deadline time.Time
	closed   atomic.Bool
}

// NewCountdownGate returns a gate for deadline.
func NewCountdownGate(deadline time.Time) *CountdownGate {
	return &CountdownGate{deadline: deadline}
}

// Deadline returns the fixed closing instant.
func (g *CountdownGate) Deadline() time.Time { return g.deadline }

// Closed reports the latched flag without ticking.
func (g *CountdownGate) Closed() bool { return g.closed.Load() }

// Tick computes the countdown at now.
func (g *CountdownGate) Tick(now time.Time) Countdown {
	if g.closed.Load() {
		return Countdown{Deadline: g.deadline, Closed: true}
	}
	c := ComputeCountdown(now, g.deadline)
	if c.Closed {
		g.closed.Store(true)
	}
	return c
}

// Run ticks immediately and then every interval, passing each countdown to
// fn. It returns after delivering the first closed countdown or when ctx is
// done, releasing its ticker.
func (g *CountdownGate) Run(ctx context.Context, clock Clock, interval time.Duration, fn func(Countdown)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c := g.Tick(clock.Now())
		if fn != nil {
			fn(c)
		}
		if c.Closed {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
