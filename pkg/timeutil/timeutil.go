// Package timeutil provides clock and calendar helpers for the month-based
// leaderboards. All month arithmetic happens in a single configured location
// so every process agrees on when a month ends.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// DefaultLocation is used when no timezone is configured.
var DefaultLocation = time.UTC

// Clock abstracts the current time so month boundaries can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in a fixed location.
type SystemClock struct {
	Location *time.Location
}

// NewSystemClock returns a clock reporting times in loc (UTC when nil).
func NewSystemClock(loc *time.Location) SystemClock {
	if loc == nil {
		loc = DefaultLocation
	}
	return SystemClock{Location: loc}
}

// Now returns the current time in the clock's location.
func (c SystemClock) Now() time.Time {
	loc := c.Location
	if loc == nil {
		loc = DefaultLocation
	}
	return time.Now().In(loc)
}

// FixedClock is a settable clock for tests.
type FixedClock struct {
	mu sync.RWMutex
	t  time.Time
}

// NewFixedClock creates a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// Now returns the frozen time.
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// LoadLocation resolves an IANA zone name, falling back to a fixed offset
// zone for strings like "UTC-3".
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return DefaultLocation, nil
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	var hours int
	if _, scanErr := fmt.Sscanf(name, "UTC%d", &hours); scanErr == nil && hours >= -12 && hours <= 14 {
		return time.FixedZone(name, hours*60*60), nil
	}
	return nil, fmt.Errorf("timeutil: unknown location %q: %w", name, err)
}

// StartOfMonth returns midnight of the first day of t's month in t's location.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// StartOfNextMonth returns the first instant of the month after t.
func StartOfNextMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, 0)
}

// UntilNextMonth returns how long remains until the next month boundary.
func UntilNextMonth(t time.Time) time.Duration {
	return StartOfNextMonth(t).Sub(t)
}

// FormatDuration renders a duration for user-facing messages.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return "menos de un minuto"
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	switch {
	case days > 0 && hours > 0:
		return fmt.Sprintf("%d d %d h", days, hours)
	case days > 0:
		return fmt.Sprintf("%d d", days)
	case hours > 0:
		return fmt.Sprintf("%d h %d min", hours, int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%d min", int(d.Minutes()))
	}
}
