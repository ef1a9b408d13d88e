// Package backoff converts consecutive rate-limit signals into bounded, growing waits.
package backoff

import (
	"fmt"
	"time"
)

// Default wait parameters.
const (
	DefaultBaseUnit = 60 * time.Second
	DefaultCeiling  = 5 * time.Minute
)

// State is the controller's coarse mode.
type State int

// Controller states.
const (
	Normal State = iota
	Throttled
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Throttled:
		return "throttled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the linear backoff parameters.
type Config struct {
	BaseUnit time.Duration
	Ceiling  time.Duration
}

// Controller is a per-crawl linear backoff state machine. Attempts are unbounded;
// each wait is capped at Ceiling. It is not safe for concurrent use.
type Controller struct {
	baseUnit time.Duration
	ceiling  time.Duration
	attempts int
	wait     time.Duration
}

// New builds a Controller, falling back to the defaults for non-positive values.
func New(cfg Config) *Controller {
	if cfg.BaseUnit <= 0 {
		cfg.BaseUnit = DefaultBaseUnit
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultCeiling
	}
	if cfg.Ceiling < cfg.BaseUnit {
		cfg.Ceiling = cfg.BaseUnit
	}
	return &Controller{baseUnit: cfg.BaseUnit, ceiling: cfg.Ceiling}
}

// OnRateLimited advances Normal -> Throttled(1) or Throttled(n) -> Throttled(n+1)
// and returns the wait to apply before retrying.
func (c *Controller) OnRateLimited() time.Duration {
	c.attempts++
	c.wait = WaitDuration(c.baseUnit, c.ceiling, c.attempts)
	return c.wait
}

// OnSuccess returns the controller to Normal.
func (c *Controller) OnSuccess() {
	c.attempts = 0
	c.wait = 0
}

// State reports the current mode.
func (c *Controller) State() State {
	if c.attempts == 0 {
		return Normal
	}
	return Throttled
}

// Attempts is the consecutive rate-limit count (n in Throttled(n)).
func (c *Controller) Attempts() int {
	return c.attempts
}

// Wait is the most recently issued wait, zero in Normal.
func (c *Controller) Wait() time.Duration {
	return c.wait
}

// WaitDuration computes min(base*n, ceiling). n <= 0 yields zero.
func WaitDuration(base, ceiling time.Duration, n int) time.Duration {
	if n <= 0 {
		return 0
	}
	// Stop multiplying once past the ceiling so large n cannot overflow.
	if base > 0 && time.Duration(n) > ceiling/base {
		return ceiling
	}
	wait := base * time.Duration(n)
	if wait > ceiling {
		return ceiling
	}
	return wait
}
