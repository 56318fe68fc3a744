// Package journal keeps a bounded, append-mostly log of recent mutating
// operations. The log is partitioned per user so one tenant's undo
// targets are never visible to another; within a partition the newest N
// entries are kept and older ones age out silently. Durability is
// deliberately best-effort: the journal exists to drive single-level
// undo, not auditing.
package journal

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filedepot/filedepot/internal/model"
)

// DefaultCapacity is the per-user entry bound when none is configured.
const DefaultCapacity = 100

// undoable is the set of action kinds the undo engine can reverse.
var undoable = map[model.Action]bool{
	model.ActionFileUploaded: true,
	model.ActionFileRenamed:  true,
	model.ActionFileReplaced: true,
}

// Undoable reports whether entries of this kind can be reversed.
func Undoable(a model.Action) bool {
	return undoable[a]
}

// Log is an in-memory bounded journal. A single mutex guards all
// partitions; appends and trims happen in one critical section so the
// bound holds under concurrency.
type Log struct {
	mu       sync.Mutex
	capacity int
	byUser   map[string][]*model.ActionLogEntry // oldest first
}

// NewLog constructs a Log keeping at most capacity entries per user.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		byUser:   make(map[string][]*model.ActionLogEntry),
	}
}

// Append records an action and returns the stored entry.
func (l *Log) Append(userID, sessionID string, action model.Action, details map[string]string) *model.ActionLogEntry {
	entry := &model.ActionLogEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Action:    action,
		Time:      time.Now().UTC(),
		Details:   details,
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := append(l.byUser[userID], entry)
	if overflow := len(entries) - l.capacity; overflow > 0 {
		entries = entries[overflow:]
	}
	l.byUser[userID] = entries
	return copyEntry(entry)
}

// Entries returns the user's journal, newest first.
func (l *Log) Entries(userID string) []*model.ActionLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.byUser[userID]
	out := make([]*model.ActionLogEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, copyEntry(entries[i]))
	}
	return out
}

// Get returns the user's entry with the given id.
func (l *Log) Get(userID, id string) (*model.ActionLogEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.byUser[userID] {
		if entry.ID == id {
			return copyEntry(entry), true
		}
	}
	return nil, false
}

// LatestUndoable returns the newest entry of an undoable kind that has
// not been undone yet. sessionID narrows the search when non-empty.
func (l *Log) LatestUndoable(userID, sessionID string) (*model.ActionLogEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.byUser[userID]
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.Undone || !undoable[entry.Action] {
			continue
		}
		if sessionID != "" && entry.SessionID != sessionID {
			continue
		}
		return copyEntry(entry), true
	}
	return nil, false
}

// MarkUndone flags the entry so it is never offered for undo again.
func (l *Log) MarkUndone(userID, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.byUser[userID] {
		if entry.ID == id {
			entry.Undone = true
			return
		}
	}
}

func copyEntry(entry *model.ActionLogEntry) *model.ActionLogEntry {
	cp := *entry
	if entry.Details != nil {
		cp.Details = make(map[string]string, len(entry.Details))
		for k, v := range entry.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}
