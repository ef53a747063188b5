package query

import "sync/atomic"

// Counter tracks the number of queries in progress.  It is owned by the server and
// only used for reporting.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) inc() {
	if c != nil {
		c.n.Add(1)
	}
}

func (c *Counter) dec() {
	if c != nil {
		c.n.Add(-1)
	}
}

// Value returns the number of pending queries.
func (c *Counter) Value() int64 {
	if c == nil {
		return 0
	}
	return c.n.Load()
}
