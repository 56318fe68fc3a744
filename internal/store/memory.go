package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filedepot/filedepot/internal/model"
)

// MemoryStore is the in-memory Store used by tests and local development.
// A single RWMutex guards all state, so every mutation is atomic: the
// uniqueness check and the write happen inside one critical section,
// matching the guarantee the Postgres implementation gets from its
// partial unique index.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*model.FileRecord // keyed by internal name
	snapshots map[string]*model.BackupSnapshot
	retention time.Duration
}

// NewMemoryStore constructs a MemoryStore with the default retention
// window.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*model.FileRecord),
		snapshots: make(map[string]*model.BackupSnapshot),
		retention: model.DefaultRetention,
	}
}

// SetRetention overrides the recycle-bin retention window.
func (m *MemoryStore) SetRetention(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.retention = d
	}
}

func (m *MemoryStore) activeByName(userID, displayName string) *model.FileRecord {
	for _, rec := range m.records {
		if rec.UserID == userID && rec.DisplayName == displayName && !rec.IsDeleted {
			return rec
		}
	}
	return nil
}

// AddFile creates an active record at version 1.
func (m *MemoryStore) AddFile(ctx context.Context, p AddFileParams) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[p.InternalName]; ok {
		return nil, fmt.Errorf("internal name %q already in use", p.InternalName)
	}
	if m.activeByName(p.UserID, p.DisplayName) != nil {
		return nil, ErrNameConflict
	}
	now := time.Now().UTC()
	rec := &model.FileRecord{
		UserID:       p.UserID,
		DisplayName:  p.DisplayName,
		OriginalName: p.OriginalName,
		InternalName: p.InternalName,
		Size:         p.Size,
		MimeType:     p.MimeType,
		Checksum:     p.Checksum,
		Version:      1,
		Visibility:   model.VisibilityPrivate,
		ShareToken:   uuid.NewString(),
		UploadedAt:   now,
		UpdatedAt:    now,
	}
	m.records[p.InternalName] = rec
	return copyRecord(rec), nil
}

// DisplayNameExists checks only active records.
func (m *MemoryStore) DisplayNameExists(ctx context.Context, userID, displayName string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeByName(userID, displayName) != nil, nil
}

// GetInternalFilename resolves an active display name.
func (m *MemoryStore) GetInternalFilename(ctx context.Context, userID, displayName string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec := m.activeByName(userID, displayName); rec != nil {
		return rec.InternalName, nil
	}
	return "", ErrRecordMissing
}

// GetByDisplayName returns the active record owning displayName.
func (m *MemoryStore) GetByDisplayName(ctx context.Context, userID, displayName string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec := m.activeByName(userID, displayName); rec != nil {
		return copyRecord(rec), nil
	}
	return nil, ErrRecordMissing
}

// GetByInternalName returns a record regardless of lifecycle state.
func (m *MemoryStore) GetByInternalName(ctx context.Context, userID, internalName string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[internalName]
	if !ok || rec.UserID != userID {
		return nil, ErrRecordMissing
	}
	return copyRecord(rec), nil
}

// UpdateDisplayName renames an active record and increments its version,
// returning the previous display name from the same critical section.
func (m *MemoryStore) UpdateDisplayName(ctx context.Context, userID, internalName, newName string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[internalName]
	if !ok || rec.UserID != userID || rec.IsDeleted {
		return "", false, nil
	}
	if other := m.activeByName(userID, newName); other != nil && other.InternalName != internalName {
		return "", false, ErrNameConflict
	}
	previous := rec.DisplayName
	rec.DisplayName = newName
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return previous, true, nil
}

// RemoveFile hard-deletes the metadata row.
func (m *MemoryStore) RemoveFile(ctx context.Context, userID, internalName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[internalName]
	if !ok || rec.UserID != userID {
		return false, nil
	}
	delete(m.records, internalName)
	return true, nil
}

// MoveToRecycleBin soft-deletes a record.
func (m *MemoryStore) MoveToRecycleBin(ctx context.Context, userID, internalName string, expiresAt *time.Time) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[internalName]
	if !ok || rec.UserID != userID {
		return nil, ErrRecordMissing
	}
	if rec.IsDeleted {
		return copyRecord(rec), nil
	}
	now := time.Now().UTC()
	expiry := now.Add(m.retention)
	if expiresAt != nil {
		expiry = expiresAt.UTC()
	}
	rec.IsDeleted = true
	rec.DeletedAt = &now
	rec.RecycleExpiresAt = &expiry
	rec.Visibility = model.VisibilityPrivate
	rec.UpdatedAt = now
	return copyRecord(rec), nil
}

// RestoreFromRecycleBin clears the soft-delete fields.
func (m *MemoryStore) RestoreFromRecycleBin(ctx context.Context, userID, internalName string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[internalName]
	if !ok || rec.UserID != userID || !rec.IsDeleted {
		return nil, ErrRecordMissing
	}
	if m.activeByName(userID, rec.DisplayName) != nil {
		return nil, ErrNameConflict
	}
	rec.IsDeleted = false
	rec.DeletedAt = nil
	rec.RecycleExpiresAt = nil
	rec.UpdatedAt = time.Now().UTC()
	return copyRecord(rec), nil
}

// ListFilesForUser returns active records, most recently uploaded first.
func (m *MemoryStore) ListFilesForUser(ctx context.Context, userID string) ([]*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.FileRecord
	for _, rec := range m.records {
		if rec.UserID == userID && !rec.IsDeleted {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

// ListRecycleBin returns soft-deleted records, most recently deleted first.
func (m *MemoryStore) ListRecycleBin(ctx context.Context, userID string) ([]*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.FileRecord
	for _, rec := range m.records {
		if rec.UserID == userID && rec.IsDeleted {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.After(*out[j].DeletedAt) })
	return out, nil
}

// FindExpiredDeletedFiles returns soft-deleted records expired as of asOf.
func (m *MemoryStore) FindExpiredDeletedFiles(ctx context.Context, asOf time.Time) ([]*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.FileRecord
	for _, rec := range m.records {
		if rec.IsDeleted && rec.RecycleExpiresAt != nil && !rec.RecycleExpiresAt.After(asOf) {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecycleExpiresAt.Before(*out[j].RecycleExpiresAt) })
	return out, nil
}

// PurgeExpired removes the row only while it is still deleted and expired.
func (m *MemoryStore) PurgeExpired(ctx context.Context, userID, internalName string, asOf time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[internalName]
	if !ok || rec.UserID != userID || !rec.IsDeleted {
		return false, nil
	}
	if rec.RecycleExpiresAt == nil || rec.RecycleExpiresAt.After(asOf) {
		return false, nil
	}
	delete(m.records, internalName)
	return true, nil
}

// UpdateShareState sets visibility on an active record.
func (m *MemoryStore) UpdateShareState(ctx context.Context, userID, internalName string, visibility model.Visibility) (*model.FileRecord, error) {
	if !visibility.Valid() {
		return nil, ErrInvalidVisibility
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[internalName]
	if !ok || rec.UserID != userID || rec.IsDeleted {
		return nil, ErrRecordMissing
	}
	rec.Visibility = visibility
	rec.UpdatedAt = time.Now().UTC()
	return copyRecord(rec), nil
}

// RefreshShareToken rotates the share capability of an active record.
func (m *MemoryStore) RefreshShareToken(ctx context.Context, userID, internalName string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[internalName]
	if !ok || rec.UserID != userID || rec.IsDeleted {
		return nil, ErrRecordMissing
	}
	rec.ShareToken = uuid.NewString()
	rec.UpdatedAt = time.Now().UTC()
	return copyRecord(rec), nil
}

// FindByShareToken resolves a share token to its active record.
func (m *MemoryStore) FindByShareToken(ctx context.Context, token string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if rec.ShareToken == token && !rec.IsDeleted {
			return copyRecord(rec), nil
		}
	}
	return nil, ErrRecordMissing
}

// ReinstateRecord inserts a record with explicit version and upload date.
func (m *MemoryStore) ReinstateRecord(ctx context.Context, rec *model.FileRecord) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.InternalName]; ok {
		return nil, fmt.Errorf("internal name %q already in use", rec.InternalName)
	}
	if m.activeByName(rec.UserID, rec.DisplayName) != nil {
		return nil, ErrNameConflict
	}
	now := time.Now().UTC()
	stored := copyRecord(rec)
	stored.Visibility = model.VisibilityPrivate
	stored.ShareToken = uuid.NewString()
	stored.IsDeleted = false
	stored.DeletedAt = nil
	stored.RecycleExpiresAt = nil
	stored.UpdatedAt = now
	m.records[stored.InternalName] = stored
	return copyRecord(stored), nil
}

// SaveSnapshot persists a backup sidecar record.
func (m *MemoryStore) SaveSnapshot(ctx context.Context, snap *model.BackupSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.snapshots[snap.ID] = &cp
	return nil
}

// GetSnapshot returns a snapshot by id.
func (m *MemoryStore) GetSnapshot(ctx context.Context, id string) (*model.BackupSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[id]
	if !ok {
		return nil, ErrRecordMissing
	}
	cp := *snap
	return &cp, nil
}

// DeleteSnapshot removes a snapshot.
func (m *MemoryStore) DeleteSnapshot(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[id]; !ok {
		return false, nil
	}
	delete(m.snapshots, id)
	return true, nil
}

func copyRecord(rec *model.FileRecord) *model.FileRecord {
	cp := *rec
	if rec.DeletedAt != nil {
		t := *rec.DeletedAt
		cp.DeletedAt = &t
	}
	if rec.RecycleExpiresAt != nil {
		t := *rec.RecycleExpiresAt
		cp.RecycleExpiresAt = &t
	}
	return &cp
}
