// utils/ringlog.go
package utils

import (
	"fmt"
	"sync"
	"time"
)

// RingLog is a bounded, concurrency-safe ring buffer of activity lines.
// Each live connection keeps one so operators can inspect recent behavior
// without trawling the service logs.
type RingLog struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func NewRingLog(capacity int) *RingLog {
	if capacity <= 0 {
		capacity = 64
	}
	return &RingLog{lines: make([]string, capacity)}
}

// Addf appends a timestamped line, evicting the oldest when full.
func (r *RingLog) Addf(format string, args ...interface{}) {
	line := time.Now().UTC().Format(time.RFC3339) + " " + fmt.Sprintf(format, args...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// Lines returns the buffered lines oldest-first.
func (r *RingLog) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	if r.full {
		out = append(out, r.lines[r.next:]...)
	}
	out = append(out, r.lines[:r.next]...)
	// Drop the zero-value slots from a buffer that never filled.
	trimmed := make([]string, 0, len(out))
	for _, l := range out {
		if l != "" {
			trimmed = append(trimmed, l)
		}
	}
	return trimmed
}
