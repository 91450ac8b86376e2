package engine

import (
	"sync"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// AttemptLog is a bounded, append-only ring buffer of attempt records.
// When full, the oldest record is evicted. Records are never mutated after
// they are appended, so readers may share the pointers.
type AttemptLog struct {
	mu    sync.RWMutex
	buf   []*core.RetryAttempt
	start int
	size  int
}

// NewAttemptLog creates a log holding at most capacity records.
func NewAttemptLog(capacity int) *AttemptLog {
	if capacity <= 0 {
		capacity = DefaultAttemptLogCapacity
	}
	return &AttemptLog{buf: make([]*core.RetryAttempt, capacity)}
}

// Append adds a record, evicting the oldest when the buffer is full.
func (l *AttemptLog) Append(a *core.RetryAttempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := (l.start + l.size) % len(l.buf)
	l.buf[idx] = a
	if l.size < len(l.buf) {
		l.size++
		return
	}
	l.start = (l.start + 1) % len(l.buf)
}

// Len returns the number of retained records.
func (l *AttemptLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the maximum number of retained records.
func (l *AttemptLog) Capacity() int {
	return len(l.buf)
}

// Snapshot returns the retained records, oldest first.
func (l *AttemptLog) Snapshot() []*core.RetryAttempt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*core.RetryAttempt, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// Reverse calls fn for each record from newest to oldest until fn returns false.
func (l *AttemptLog) Reverse(fn func(a *core.RetryAttempt) bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := l.size - 1; i >= 0; i-- {
		if !fn(l.buf[(l.start+i)%len(l.buf)]) {
			return
		}
	}
}
