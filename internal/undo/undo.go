// Package undo replays the inverse of the most recent journaled mutating
// operation. Undo is single-level: the reversal is journaled as
// undo_performed and is itself never undoable.
package undo

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/backup"
	"github.com/filedepot/filedepot/internal/blob"
	"github.com/filedepot/filedepot/internal/journal"
	"github.com/filedepot/filedepot/internal/model"
	"github.com/filedepot/filedepot/internal/store"
)

var (
	// ErrUndoUnsupported reports an action kind outside the undoable set.
	ErrUndoUnsupported = errors.New("action cannot be undone")
	// ErrNothingToUndo reports an empty (or exhausted) undo history.
	ErrNothingToUndo = errors.New("nothing to undo")
)

// Engine reverses journaled operations.
type Engine struct {
	store       store.Store
	blobs       blob.Accessor
	backups     *backup.Service
	log         *journal.Log
	logger      *zap.Logger
	filesBucket string
}

// NewEngine constructs an Engine.
func NewEngine(s store.Store, blobs blob.Accessor, backups *backup.Service, log *journal.Log, logger *zap.Logger, filesBucket string) *Engine {
	return &Engine{
		store:       s,
		blobs:       blobs,
		backups:     backups,
		log:         log,
		logger:      logger,
		filesBucket: filesBucket,
	}
}

// Undo reverses the journal entry with actionID, or the user's most recent
// undoable entry when actionID is empty. The entry must belong to userID;
// a bare session string is never the only key.
func (e *Engine) Undo(ctx context.Context, userID, sessionID, actionID string) (*model.ActionLogEntry, error) {
	var entry *model.ActionLogEntry
	if actionID != "" {
		found, ok := e.log.Get(userID, actionID)
		if !ok {
			return nil, ErrNothingToUndo
		}
		entry = found
	} else {
		found, ok := e.log.LatestUndoable(userID, sessionID)
		if !ok {
			return nil, ErrNothingToUndo
		}
		entry = found
	}
	if entry.Undone {
		return nil, ErrNothingToUndo
	}
	if !journal.Undoable(entry.Action) {
		return nil, ErrUndoUnsupported
	}

	var err error
	switch entry.Action {
	case model.ActionFileUploaded:
		err = e.undoUpload(ctx, userID, entry)
	case model.ActionFileRenamed:
		err = e.undoRename(ctx, userID, entry)
	case model.ActionFileReplaced:
		err = e.undoReplace(ctx, userID, sessionID, entry)
	default:
		return nil, ErrUndoUnsupported
	}
	if err != nil {
		return nil, err
	}

	e.log.MarkUndone(userID, entry.ID)
	performed := e.log.Append(userID, sessionID, model.ActionUndoPerformed, map[string]string{
		"undoneAction": string(entry.Action),
		"undoneId":     entry.ID,
	})
	e.logger.Info("undo performed",
		zap.String("user", userID),
		zap.String("action", string(entry.Action)))
	return performed, nil
}

// undoUpload deletes the uploaded object and its metadata row; nothing
// existed before the upload, so no backup is involved. A second undo of
// the same entry fails with ErrRecordMissing.
func (e *Engine) undoUpload(ctx context.Context, userID string, entry *model.ActionLogEntry) error {
	internal := entry.Details["internalName"]
	if _, err := e.store.GetByInternalName(ctx, userID, internal); err != nil {
		return err
	}
	if err := e.blobs.Delete(ctx, e.filesBucket+"/"+internal); err != nil {
		return fmt.Errorf("delete uploaded object: %w", err)
	}
	removed, err := e.store.RemoveFile(ctx, userID, internal)
	if err != nil {
		return err
	}
	if !removed {
		return store.ErrRecordMissing
	}
	return nil
}

// undoRename moves the display name back. Fails with ErrNameConflict when
// the original name has since been taken and ErrRecordMissing when the
// record is gone.
func (e *Engine) undoRename(ctx context.Context, userID string, entry *model.ActionLogEntry) error {
	internal := entry.Details["internalName"]
	previous := entry.Details["previousName"]
	_, ok, err := e.store.UpdateDisplayName(ctx, userID, internal, previous)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrRecordMissing
	}
	return nil
}

// undoReplace removes the record that won the replace and restores the
// backed-up original, original upload date included. The record to evict
// is addressed by the journaled internal name, which is immutable; a
// rename of the replacement never redirects the eviction onto an
// unrelated record.
func (e *Engine) undoReplace(ctx context.Context, userID, sessionID string, entry *model.ActionLogEntry) error {
	snap, err := e.backups.GetSnapshot(ctx, entry.Details["snapshotId"])
	if err != nil {
		return err
	}
	if snap.UserID != userID {
		return backup.ErrBackupMissing
	}
	internal := entry.Details["internalName"]
	// If another record holds the display name now, restoring would land
	// on top of it. Refuse before destroying anything.
	if holder, err := e.store.GetByDisplayName(ctx, userID, snap.DisplayName); err == nil {
		if holder.InternalName != internal {
			return store.ErrNameConflict
		}
	} else if !errors.Is(err, store.ErrRecordMissing) {
		return err
	}
	// The replacement may have been deleted since; nothing to evict then.
	occupant, err := e.store.GetByInternalName(ctx, userID, internal)
	if err == nil {
		if err := e.blobs.Delete(ctx, e.filesBucket+"/"+occupant.InternalName); err != nil {
			return fmt.Errorf("delete replacing object: %w", err)
		}
		if _, err := e.store.RemoveFile(ctx, userID, occupant.InternalName); err != nil {
			return err
		}
	} else if !errors.Is(err, store.ErrRecordMissing) {
		return err
	}
	if _, err := e.backups.Restore(ctx, snap); err != nil {
		return err
	}
	e.backups.DropSnapshot(ctx, snap)
	return nil
}
