// Package chat holds the client-side transcript model shared by the visitor
// and agent controllers.
package chat

import (
	"sync"
	"time"

	v1 "handoff/contracts/support/v1"
)

// Entry is one transcript line as a participant saw it. Entries are immutable
// once appended; optimistic local echoes are marked Local.
type Entry struct {
	Type  v1.MessageType
	Role  v1.Role
	Text  string
	Local bool
	TS    time.Time
}

// Log is a concurrency-safe append-only transcript.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

// Append adds one entry, stamping TS when unset.
func (l *Log) Append(e Entry) {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Snapshot returns a copy of the transcript.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the transcript length.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
