// Package transcript collects and persists the spoken-text record of a live
// session. The in-memory [Log] is the session-lifetime view; the optional
// SQLite-backed [Store] keeps fragments across restarts.
package transcript

import (
	"sync"
	"time"

	"github.com/auralith/muselive/pkg/provider/live"
)

// Entry is one transcript fragment attributed to a speaker.
type Entry struct {
	// Speaker identifies who produced the fragment.
	Speaker live.Speaker

	// Text is the fragment as delivered by the model. Fragments are partial;
	// consecutive entries from the same speaker form one utterance.
	Text string

	// At is the local arrival time of the fragment.
	At time.Time
}

// Log is an append-only in-memory transcript. Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

// NewLog creates an empty transcript log.
func NewLog() *Log {
	return &Log{}
}

// Append records one fragment. Empty text is ignored.
func (l *Log) Append(speaker live.Speaker, text string, at time.Time) {
	if text == "" {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Speaker: speaker, Text: text, At: at})
}

// Entries returns a copy of all fragments in arrival order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded fragments.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
