package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogEntry represents a single captured log line.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// ring is the storage shared by a LogBuffer and the handlers derived from it.
type ring struct {
	mu      sync.Mutex
	entries []LogEntry
	pos     int
	full    bool
}

func (r *ring) add(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.pos] = e
	r.pos++
	if r.pos == len(r.entries) {
		r.pos = 0
		r.full = true
	}
}

// LogBuffer is a ring-buffer slog.Handler that keeps recent entries while
// forwarding every record to a wrapped handler.
type LogBuffer struct {
	inner slog.Handler
	ring  *ring
	attrs []slog.Attr
}

// NewLogBuffer wraps inner, retaining up to maxSize entries.
func NewLogBuffer(inner slog.Handler, maxSize int) *LogBuffer {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LogBuffer{inner: inner, ring: &ring{entries: make([]LogEntry, maxSize)}}
}

func (lb *LogBuffer) Enabled(ctx context.Context, level slog.Level) bool {
	return lb.inner.Enabled(ctx, level)
}

func (lb *LogBuffer) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
	}
	if n := len(lb.attrs) + r.NumAttrs(); n > 0 {
		entry.Attrs = make(map[string]any, n)
		for _, a := range lb.attrs {
			entry.Attrs[a.Key] = a.Value.Any()
		}
		r.Attrs(func(a slog.Attr) bool {
			entry.Attrs[a.Key] = a.Value.Any()
			return true
		})
	}
	lb.ring.add(entry)
	return lb.inner.Handle(ctx, r)
}

func (lb *LogBuffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr(nil), lb.attrs...), attrs...)
	return &LogBuffer{inner: lb.inner.WithAttrs(attrs), ring: lb.ring, attrs: merged}
}

func (lb *LogBuffer) WithGroup(name string) slog.Handler {
	return &LogBuffer{inner: lb.inner.WithGroup(name), ring: lb.ring, attrs: lb.attrs}
}

// Entries returns the buffered entries in chronological order.
func (lb *LogBuffer) Entries() []LogEntry {
	r := lb.ring
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]LogEntry(nil), r.entries[:r.pos]...)
	}
	out := make([]LogEntry, 0, len(r.entries))
	out = append(out, r.entries[r.pos:]...)
	return append(out, r.entries[:r.pos]...)
}
