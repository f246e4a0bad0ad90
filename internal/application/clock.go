package application

import "time"

// Clock lets services stamp transitions deterministically in tests
type Clock interface {
	Now() time.Time
}

// SystemClock is the default, UTC wall time
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns T. Advance moves it forward.
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time { return c.T }

func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }
