// Package backup snapshots a storage object plus its metadata before a
// destructive replace, and reconstructs a record from a snapshot when the
// replace is undone. Backups are best-effort: a failed copy is journaled
// and the replace proceeds without one.
package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/blob"
	"github.com/filedepot/filedepot/internal/journal"
	"github.com/filedepot/filedepot/internal/model"
	"github.com/filedepot/filedepot/internal/store"
)

// ErrBackupMissing reports an undo whose snapshot has since been purged.
var ErrBackupMissing = errors.New("backup snapshot not found")

// Service owns snapshot creation and restoration.
type Service struct {
	store        store.Store
	blobs        blob.Accessor
	log          *journal.Log
	logger       *zap.Logger
	filesBucket  string
	backupBucket string
}

// NewService constructs a Service.
func NewService(s store.Store, blobs blob.Accessor, log *journal.Log, logger *zap.Logger, filesBucket, backupBucket string) *Service {
	return &Service{
		store:        s,
		blobs:        blobs,
		log:          log,
		logger:       logger,
		filesBucket:  filesBucket,
		backupBucket: backupBucket,
	}
}

// backupKey derives the backup object name from the display name plus a
// timestamp, so a bucket listing stays human-readable.
func (s *Service) backupKey(rec *model.FileRecord, at time.Time) string {
	name := strings.ReplaceAll(rec.DisplayName, "/", "_")
	return fmt.Sprintf("%s/%s/%s.%d", s.backupBucket, rec.UserID, name, at.UnixNano())
}

// CreateBackup copies the record's storage object into the backup area
// and persists a sidecar snapshot. On copy failure the error is journaled
// as backup_failed and returned; the caller proceeds with the replace
// regardless.
func (s *Service) CreateBackup(ctx context.Context, rec *model.FileRecord, sessionID, reason string) (*model.BackupSnapshot, error) {
	now := time.Now().UTC()
	src := s.filesBucket + "/" + rec.InternalName
	dst := s.backupKey(rec, now)
	if err := s.blobs.Copy(ctx, src, dst); err != nil {
		s.logger.Warn("backup copy failed",
			zap.String("user", rec.UserID),
			zap.String("file", rec.DisplayName),
			zap.Error(err))
		s.log.Append(rec.UserID, sessionID, model.ActionBackupFailed, map[string]string{
			"displayName": rec.DisplayName,
			"error":       err.Error(),
		})
		return nil, fmt.Errorf("backup copy: %w", err)
	}
	snap := &model.BackupSnapshot{
		ID:                 uuid.NewString(),
		UserID:             rec.UserID,
		DisplayName:        rec.DisplayName,
		SourceInternalName: rec.InternalName,
		BackupObject:       dst,
		OriginalUploadedAt: rec.UploadedAt,
		OriginalSize:       rec.Size,
		OriginalMime:       rec.MimeType,
		Version:            rec.Version,
		Reason:             reason,
		CreatedAt:          now,
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		s.log.Append(rec.UserID, sessionID, model.ActionBackupFailed, map[string]string{
			"displayName": rec.DisplayName,
			"error":       err.Error(),
		})
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	s.log.Append(rec.UserID, sessionID, model.ActionBackupCreated, map[string]string{
		"snapshotId":  snap.ID,
		"displayName": rec.DisplayName,
	})
	return snap, nil
}

// GetSnapshot loads a snapshot, mapping a missing row to ErrBackupMissing.
func (s *Service) GetSnapshot(ctx context.Context, id string) (*model.BackupSnapshot, error) {
	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordMissing) {
			return nil, ErrBackupMissing
		}
		return nil, err
	}
	return snap, nil
}

// Restore copies the snapshot's object back under a freshly generated
// internal name and reinstates the record with the snapshot's version + 1
// and its original upload date. Only the undo engine calls this; the undo
// itself is the journaled action, so Restore logs nothing.
func (s *Service) Restore(ctx context.Context, snap *model.BackupSnapshot) (*model.FileRecord, error) {
	exists, err := s.blobs.Exists(ctx, snap.BackupObject)
	if err != nil {
		return nil, fmt.Errorf("check backup object: %w", err)
	}
	if !exists {
		return nil, ErrBackupMissing
	}
	internal := uuid.NewString()
	if err := s.blobs.Copy(ctx, snap.BackupObject, s.filesBucket+"/"+internal); err != nil {
		return nil, fmt.Errorf("restore copy: %w", err)
	}
	rec, err := s.store.ReinstateRecord(ctx, &model.FileRecord{
		UserID:       snap.UserID,
		DisplayName:  snap.DisplayName,
		OriginalName: snap.DisplayName,
		InternalName: internal,
		Size:         snap.OriginalSize,
		MimeType:     snap.OriginalMime,
		Version:      snap.Version + 1,
		UploadedAt:   snap.OriginalUploadedAt,
	})
	if err != nil {
		// Roll the copied object back so a conflicting name does not leak
		// an orphan blob.
		if delErr := s.blobs.Delete(ctx, s.filesBucket+"/"+internal); delErr != nil {
			s.logger.Warn("orphan cleanup failed", zap.String("object", internal), zap.Error(delErr))
		}
		return nil, err
	}
	return rec, nil
}

// DropSnapshot removes a consumed snapshot and its backup object.
// Best-effort: failures are logged, never surfaced.
func (s *Service) DropSnapshot(ctx context.Context, snap *model.BackupSnapshot) {
	if err := s.blobs.Delete(ctx, snap.BackupObject); err != nil {
		s.logger.Warn("delete backup object failed", zap.String("object", snap.BackupObject), zap.Error(err))
	}
	if _, err := s.store.DeleteSnapshot(ctx, snap.ID); err != nil {
		s.logger.Warn("delete snapshot row failed", zap.String("snapshot", snap.ID), zap.Error(err))
	}
}
