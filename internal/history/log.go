package history

import (
	"github.com/pausarr/pausarr/internal/models"
)

const (
	// DefaultCapacity is the number of entries the monitor keeps.
	DefaultCapacity = 50
	// DefaultSnapshotSize is the number of entries exposed in status snapshots.
	DefaultSnapshotSize = 20
)

// Log is an append-only, bounded list of history entries. Oldest entries are
// dropped first once the capacity is exceeded. Log is not safe for concurrent
// use; the owner serialises access.
type Log struct {
	capacity int
	entries  []models.HistoryEntry
}

// New returns a log holding at most capacity entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

// Append adds an entry, trimming the oldest ones above capacity.
func (l *Log) Append(entry models.HistoryEntry) {
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Recent returns a copy of the last n entries in insertion order. A
// non-positive n returns every entry.
func (l *Log) Recent(n int) []models.HistoryEntry {
	start := 0
	if n > 0 && len(l.entries) > n {
		start = len(l.entries) - n
	}
	out := make([]models.HistoryEntry, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}
