package logtee

import (
	"sync"
)

type StringTail struct {
	capacity int
	lines    []string
	mu       sync.Mutex
}

// keeps only "capacity" last Write() calls (which you can retrieve with Snapshot() )
func NewStringTail(capacity int) *StringTail {
	return &StringTail{
		capacity: capacity,
		lines:    []string{},
	}
}

func (t *StringTail) Write(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lines = append(t.lines, line)

	if overflow := len(t.lines) - t.capacity; overflow > 0 {
		t.lines = t.lines[overflow:]
	}
}

// oldest first
func (t *StringTail) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string{}, t.lines...)
}
