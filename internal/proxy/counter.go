package proxy

import "sync/atomic"

// ConnectionCounter is a process-wide, thread-safe counter of live
// sessions. It exists for observability only: no proxy behaviour
// depends on its value.
type ConnectionCounter struct {
	n int64
}

// Increment records a new live session.
func (c *ConnectionCounter) Increment() {
	atomic.AddInt64(&c.n, 1)
}

// Decrement records a session's termination. Callers must ensure this runs
// exactly once per Increment, including on abnormal session exit.
func (c *ConnectionCounter) Decrement() {
	atomic.AddInt64(&c.n, -1)
}

// Count returns the current number of live sessions.
func (c *ConnectionCounter) Count() int64 {
	return atomic.LoadInt64(&c.n)
}
