// Package model contains the entity types shared across packages.
package model

import (
	"time"
)

// Visibility controls who may resolve a record through its share token.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is one of the closed enum values.
func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

// DefaultRetention is how long a soft-deleted record sits in the recycle
// bin before the sweeper may purge it.
const DefaultRetention = 30 * 24 * time.Hour

// FileRecord is the canonical per-file entity. DisplayName is unique per
// user among active records; InternalName is the immutable handle to the
// backing storage object and is never reused after a purge.
type FileRecord struct {
	UserID       string     `json:"userId"`
	DisplayName  string     `json:"displayName"`
	OriginalName string     `json:"originalName"`
	InternalName string     `json:"internalName"`
	Size         int64      `json:"size"`
	MimeType     string     `json:"mimeType"`
	Checksum     string     `json:"checksum,omitempty"`
	Version      int        `json:"version"`
	Visibility   Visibility `json:"visibility"`
	ShareToken   string     `json:"-"`
	IsDeleted    bool       `json:"isDeleted"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
	// RecycleExpiresAt is DeletedAt plus the retention window; nil while
	// the record is active.
	RecycleExpiresAt *time.Time `json:"recycleExpiresAt,omitempty"`
	UploadedAt       time.Time  `json:"uploadedAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// BackupSnapshot is the immutable sidecar written before a destructive
// replace. It exists only so the replace can be undone; it has no entry in
// the naming index.
type BackupSnapshot struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"userId"`
	DisplayName        string    `json:"displayName"`
	SourceInternalName string    `json:"sourceInternalName"`
	BackupObject       string    `json:"backupObject"`
	OriginalUploadedAt time.Time `json:"originalUploadedAt"`
	OriginalSize       int64     `json:"originalSize"`
	OriginalMime       string    `json:"originalMime"`
	Version            int       `json:"version"`
	Reason             string    `json:"reason"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Action enumerates journaled operation kinds.
type Action string

const (
	ActionFileUploaded  Action = "file_uploaded"
	ActionFileRenamed   Action = "file_renamed"
	ActionFileReplaced  Action = "file_replaced"
	ActionFileDeleted   Action = "file_deleted"
	ActionFileRestored  Action = "file_restored"
	ActionBackupCreated Action = "backup_created"
	ActionBackupFailed  Action = "backup_failed"
	ActionUndoPerformed Action = "undo_performed"
)

// ActionLogEntry is one row of the bounded per-user journal.
type ActionLogEntry struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	SessionID string            `json:"sessionId"`
	Action    Action            `json:"action"`
	Time      time.Time         `json:"time"`
	Details   map[string]string `json:"details,omitempty"`
	// Undone marks an entry whose inverse has already been replayed;
	// single-level undo never picks it up again.
	Undone bool `json:"undone,omitempty"`
}
