package widget

import (
	"sync"
	"time"
)

// TimestampLayout renders UTC instants with millisecond precision, e.g.
// 2025-01-02T03:04:05.678Z
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Clock supplies the generatedAt instant of tool results
type Clock interface {
	Now() time.Time
}

// MonotonicClock never returns an instant earlier than one it already
// returned, even if the wall clock steps backwards.
type MonotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewMonotonicClock wraps now; a nil now uses time.Now
func NewMonotonicClock(now func() time.Time) *MonotonicClock {
	if now == nil {
		now = time.Now
	}
	return &MonotonicClock{now: now}
}

// Now returns the current UTC instant truncated to milliseconds
func (c *MonotonicClock) Now() time.Time {
	t := c.now().UTC().Truncate(time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// FormatTimestamp renders t in TimestampLayout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
