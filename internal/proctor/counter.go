// Package proctor counts proctoring violations such as tab switches and
// raises a force-complete signal once a limit is reached.
package proctor

import (
	"fmt"
	"sync"
)

// DefaultMaxViolations is used when the limit is not positive.
const DefaultMaxViolations = 3

// Violation is one reported incident.
type Violation struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// Counter counts violations for one interview. The force handler is called
// exactly once, from the goroutine that reports the violation reaching the
// limit.
type Counter struct {
	max   int
	force func(reason string)

	mu        sync.Mutex
	count     int
	triggered bool
}

// NewCounter returns a counter that calls force after limit violations.
func NewCounter(limit int, force func(reason string)) *Counter {
	if limit <= 0 {
		limit = DefaultMaxViolations
	}
	return &Counter{max: limit, force: force}
}

// Report records v and returns the new count and whether this call raised the
// force-complete signal.
func (c *Counter) Report(v Violation) (int, bool) {
	c.mu.Lock()
	c.count++
	n := c.count
	fire := n >= c.max && !c.triggered
	if fire {
		c.triggered = true
	}
	c.mu.Unlock()

	if fire && c.force != nil {
		reason := fmt.Sprintf("proctoring: %d violations, last: %s", n, v.Kind)
		if v.Detail != "" {
			reason += " (" + v.Detail + ")"
		}
		c.force(reason)
	}
	return n, fire
}

// Count returns the number of violations reported so far.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Remaining returns how many more violations are tolerated.
func (c *Counter) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return max(0, c.max-c.count)
}
