// Package store implements the naming index and file record store: the
// per-user namespace of display names backed by storage objects, the
// recycle bin partition, and snapshot persistence for the backup
// subsystem.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/filedepot/filedepot/internal/model"
)

var (
	// ErrNameConflict reports a display-name uniqueness violation among a
	// user's active records.
	ErrNameConflict = errors.New("display name already in use")
	// ErrRecordMissing reports that the target record does not exist or is
	// in the wrong lifecycle state for the operation.
	ErrRecordMissing = errors.New("file record not found")
	// ErrInvalidVisibility reports a visibility value outside the enum.
	ErrInvalidVisibility = errors.New("invalid visibility")
)

// AddFileParams carries everything needed to create a record. InternalName
// is the storage handle the upload receiver already wrote the object
// under.
type AddFileParams struct {
	UserID       string
	DisplayName  string
	OriginalName string
	InternalName string
	Size         int64
	MimeType     string
	Checksum     string
}

// Store is the metadata contract shared by the Postgres and in-memory
// implementations. Every mutation is a single atomic conditional
// operation against the backing state; callers never get a
// check-then-act window.
type Store interface {
	// AddFile creates an active record at version 1. Fails with
	// ErrNameConflict if the user already has an active record under the
	// same display name.
	AddFile(ctx context.Context, p AddFileParams) (*model.FileRecord, error)

	// DisplayNameExists checks only active records.
	DisplayNameExists(ctx context.Context, userID, displayName string) (bool, error)

	// GetInternalFilename resolves an active display name to its storage
	// handle. Returns ErrRecordMissing when no active record owns the name.
	GetInternalFilename(ctx context.Context, userID, displayName string) (string, error)

	// GetByDisplayName returns the active record owning displayName.
	GetByDisplayName(ctx context.Context, userID, displayName string) (*model.FileRecord, error)

	// GetByInternalName returns the record regardless of lifecycle state.
	GetByInternalName(ctx context.Context, userID, internalName string) (*model.FileRecord, error)

	// UpdateDisplayName renames an active record and increments its
	// version, returning the display name the record held before the
	// rename. Returns false when the record is missing or soft-deleted,
	// ErrNameConflict when another active record owns newName. The
	// uniqueness check and the previous-name capture ride inside the same
	// conditional update, so a concurrent rename can never journal a stale
	// previous name.
	UpdateDisplayName(ctx context.Context, userID, internalName, newName string) (string, bool, error)

	// RemoveFile hard-deletes the metadata row. Idempotent: returns false
	// when nothing was removed.
	RemoveFile(ctx context.Context, userID, internalName string) (bool, error)

	// MoveToRecycleBin soft-deletes a record: is_deleted, deleted_at,
	// recycle_expires_at (expiresAt, or now + the default retention) and
	// visibility forced private. No-op on an already-deleted record.
	MoveToRecycleBin(ctx context.Context, userID, internalName string, expiresAt *time.Time) (*model.FileRecord, error)

	// RestoreFromRecycleBin clears the soft-delete fields. Fails with
	// ErrRecordMissing when the record is absent or not deleted, and with
	// ErrNameConflict when the display name was retaken while the record
	// sat in the bin.
	RestoreFromRecycleBin(ctx context.Context, userID, internalName string) (*model.FileRecord, error)

	// ListFilesForUser returns active records, most recently uploaded
	// first.
	ListFilesForUser(ctx context.Context, userID string) ([]*model.FileRecord, error)

	// ListRecycleBin returns soft-deleted records, most recently deleted
	// first.
	ListRecycleBin(ctx context.Context, userID string) ([]*model.FileRecord, error)

	// FindExpiredDeletedFiles returns soft-deleted records whose
	// recycle_expires_at is at or before asOf.
	FindExpiredDeletedFiles(ctx context.Context, asOf time.Time) ([]*model.FileRecord, error)

	// PurgeExpired removes the metadata row only if the record is still
	// soft-deleted and expired as of asOf. This is the sweeper's claim: a
	// concurrent restore makes it return false.
	PurgeExpired(ctx context.Context, userID, internalName string, asOf time.Time) (bool, error)

	// UpdateShareState sets visibility on an active record.
	UpdateShareState(ctx context.Context, userID, internalName string, visibility model.Visibility) (*model.FileRecord, error)

	// RefreshShareToken rotates the share capability of an active record.
	RefreshShareToken(ctx context.Context, userID, internalName string) (*model.FileRecord, error)

	// FindByShareToken resolves a share token to its active record.
	// Soft-deleted records are invisible here.
	FindByShareToken(ctx context.Context, token string) (*model.FileRecord, error)

	// ReinstateRecord inserts a record carrying explicit version and
	// upload date. Used by the undo engine when a backup snapshot is
	// restored; a fresh upload goes through AddFile instead. Fails with
	// ErrNameConflict when the display name is taken.
	ReinstateRecord(ctx context.Context, rec *model.FileRecord) (*model.FileRecord, error)

	// SaveSnapshot persists a backup sidecar record.
	SaveSnapshot(ctx context.Context, snap *model.BackupSnapshot) error

	// GetSnapshot returns a snapshot by id, ErrRecordMissing when absent.
	GetSnapshot(ctx context.Context, id string) (*model.BackupSnapshot, error)

	// DeleteSnapshot removes a snapshot; false when nothing was removed.
	DeleteSnapshot(ctx context.Context, id string) (bool, error)
}
