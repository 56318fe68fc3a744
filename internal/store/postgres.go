package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/filedepot/filedepot/internal/model"
)

const uniqueViolation = "23505"

const recordColumns = `internal_name, user_id, display_name, original_name, size, mime_type, checksum,
	version, visibility, share_token, is_deleted, deleted_at, recycle_expires_at, uploaded_at, updated_at`

// PostgresStore wraps all SQL used by the API server and worker. Each
// mutation is one conditional statement; the partial unique index on
// (user_id, display_name) WHERE NOT is_deleted enforces name uniqueness
// so two concurrent inserts can never both win.
type PostgresStore struct {
	pool      *pgxpool.Pool
	retention time.Duration
}

// NewPostgresStore constructs a store over the given pool. retention <= 0
// selects the default recycle-bin window.
func NewPostgresStore(pool *pgxpool.Pool, retention time.Duration) *PostgresStore {
	if retention <= 0 {
		retention = model.DefaultRetention
	}
	return &PostgresStore{pool: pool, retention: retention}
}

func scanRecord(row pgx.Row) (*model.FileRecord, error) {
	var rec model.FileRecord
	err := row.Scan(
		&rec.InternalName, &rec.UserID, &rec.DisplayName, &rec.OriginalName,
		&rec.Size, &rec.MimeType, &rec.Checksum, &rec.Version, &rec.Visibility,
		&rec.ShareToken, &rec.IsDeleted, &rec.DeletedAt, &rec.RecycleExpiresAt,
		&rec.UploadedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// AddFile inserts an active record at version 1.
func (s *PostgresStore) AddFile(ctx context.Context, p AddFileParams) (*model.FileRecord, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO file_records (internal_name, user_id, display_name, original_name, size, mime_type,
			checksum, version, visibility, share_token, is_deleted, uploaded_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,1,$8,$9,FALSE,$10,$10)
		RETURNING `+recordColumns,
		p.InternalName, p.UserID, p.DisplayName, p.OriginalName, p.Size, p.MimeType,
		p.Checksum, model.VisibilityPrivate, uuid.NewString(), now)
	rec, err := scanRecord(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrNameConflict
		}
		return nil, fmt.Errorf("insert file record: %w", err)
	}
	return rec, nil
}

// DisplayNameExists checks only active records.
func (s *PostgresStore) DisplayNameExists(ctx context.Context, userID, displayName string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM file_records WHERE user_id=$1 AND display_name=$2 AND NOT is_deleted)
	`, userID, displayName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check display name: %w", err)
	}
	return exists, nil
}

// GetInternalFilename resolves an active display name.
func (s *PostgresStore) GetInternalFilename(ctx context.Context, userID, displayName string) (string, error) {
	var internal string
	err := s.pool.QueryRow(ctx, `
		SELECT internal_name FROM file_records WHERE user_id=$1 AND display_name=$2 AND NOT is_deleted
	`, userID, displayName).Scan(&internal)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrRecordMissing
	}
	if err != nil {
		return "", fmt.Errorf("select internal name: %w", err)
	}
	return internal, nil
}

// GetByDisplayName returns the active record owning displayName.
func (s *PostgresStore) GetByDisplayName(ctx context.Context, userID, displayName string) (*model.FileRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM file_records
		WHERE user_id=$1 AND display_name=$2 AND NOT is_deleted
	`, userID, displayName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordMissing
	}
	if err != nil {
		return nil, fmt.Errorf("select by display name: %w", err)
	}
	return rec, nil
}

// GetByInternalName returns a record regardless of lifecycle state.
func (s *PostgresStore) GetByInternalName(ctx context.Context, userID, internalName string) (*model.FileRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM file_records
		WHERE user_id=$1 AND internal_name=$2
	`, userID, internalName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordMissing
	}
	if err != nil {
		return nil, fmt.Errorf("select by internal name: %w", err)
	}
	return rec, nil
}

// UpdateDisplayName renames an active record and increments its version,
// returning the previous display name. The self-join with FOR UPDATE
// captures the old name in the same statement; the partial unique index
// turns a concurrent rename to the same name into ErrNameConflict rather
// than a second winner.
func (s *PostgresStore) UpdateDisplayName(ctx context.Context, userID, internalName, newName string) (string, bool, error) {
	var previous string
	err := s.pool.QueryRow(ctx, `
		UPDATE file_records AS f
		SET display_name=$3, version=f.version+1, updated_at=$4
		FROM (
			SELECT internal_name, display_name FROM file_records
			WHERE user_id=$1 AND internal_name=$2 AND NOT is_deleted
			FOR UPDATE
		) AS prev
		WHERE f.internal_name = prev.internal_name
		RETURNING prev.display_name
	`, userID, internalName, newName, time.Now().UTC()).Scan(&previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		if isUniqueViolation(err) {
			return "", false, ErrNameConflict
		}
		return "", false, fmt.Errorf("update display name: %w", err)
	}
	return previous, true, nil
}

// RemoveFile hard-deletes the metadata row.
func (s *PostgresStore) RemoveFile(ctx context.Context, userID, internalName string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM file_records WHERE user_id=$1 AND internal_name=$2
	`, userID, internalName)
	if err != nil {
		return false, fmt.Errorf("delete file record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MoveToRecycleBin soft-deletes a record in a single conditional update.
func (s *PostgresStore) MoveToRecycleBin(ctx context.Context, userID, internalName string, expiresAt *time.Time) (*model.FileRecord, error) {
	now := time.Now().UTC()
	expiry := now.Add(s.retention)
	if expiresAt != nil {
		expiry = expiresAt.UTC()
	}
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		UPDATE file_records
		SET is_deleted=TRUE, deleted_at=$3, recycle_expires_at=$4, visibility=$5, updated_at=$3
		WHERE user_id=$1 AND internal_name=$2 AND NOT is_deleted
		RETURNING `+recordColumns,
		userID, internalName, now, expiry, model.VisibilityPrivate))
	if errors.Is(err, pgx.ErrNoRows) {
		// Already deleted is a no-op; truly missing is an error.
		existing, getErr := s.GetByInternalName(ctx, userID, internalName)
		if getErr != nil {
			return nil, ErrRecordMissing
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("move to recycle bin: %w", err)
	}
	return rec, nil
}

// RestoreFromRecycleBin clears the soft-delete fields in a single
// conditional update.
func (s *PostgresStore) RestoreFromRecycleBin(ctx context.Context, userID, internalName string) (*model.FileRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		UPDATE file_records
		SET is_deleted=FALSE, deleted_at=NULL, recycle_expires_at=NULL, updated_at=$3
		WHERE user_id=$1 AND internal_name=$2 AND is_deleted
		RETURNING `+recordColumns,
		userID, internalName, time.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordMissing
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrNameConflict
		}
		return nil, fmt.Errorf("restore from recycle bin: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) listRecords(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListFilesForUser returns active records, most recently uploaded first.
func (s *PostgresStore) ListFilesForUser(ctx context.Context, userID string) ([]*model.FileRecord, error) {
	out, err := s.listRecords(ctx, `
		SELECT `+recordColumns+` FROM file_records
		WHERE user_id=$1 AND NOT is_deleted ORDER BY uploaded_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return out, nil
}

// ListRecycleBin returns soft-deleted records, most recently deleted first.
func (s *PostgresStore) ListRecycleBin(ctx context.Context, userID string) ([]*model.FileRecord, error) {
	out, err := s.listRecords(ctx, `
		SELECT `+recordColumns+` FROM file_records
		WHERE user_id=$1 AND is_deleted ORDER BY deleted_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list recycle bin: %w", err)
	}
	return out, nil
}

// FindExpiredDeletedFiles returns soft-deleted records expired as of asOf.
func (s *PostgresStore) FindExpiredDeletedFiles(ctx context.Context, asOf time.Time) ([]*model.FileRecord, error) {
	out, err := s.listRecords(ctx, `
		SELECT `+recordColumns+` FROM file_records
		WHERE is_deleted AND recycle_expires_at <= $1 ORDER BY recycle_expires_at
	`, asOf.UTC())
	if err != nil {
		return nil, fmt.Errorf("find expired: %w", err)
	}
	return out, nil
}

// PurgeExpired deletes the row only while it is still deleted and expired.
// This is the sweeper's re-check: a restore that committed first leaves
// nothing matching the WHERE clause.
func (s *PostgresStore) PurgeExpired(ctx context.Context, userID, internalName string, asOf time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM file_records
		WHERE user_id=$1 AND internal_name=$2 AND is_deleted AND recycle_expires_at <= $3
	`, userID, internalName, asOf.UTC())
	if err != nil {
		return false, fmt.Errorf("purge expired record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateShareState sets visibility on an active record.
func (s *PostgresStore) UpdateShareState(ctx context.Context, userID, internalName string, visibility model.Visibility) (*model.FileRecord, error) {
	if !visibility.Valid() {
		return nil, ErrInvalidVisibility
	}
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		UPDATE file_records SET visibility=$3, updated_at=$4
		WHERE user_id=$1 AND internal_name=$2 AND NOT is_deleted
		RETURNING `+recordColumns,
		userID, internalName, visibility, time.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordMissing
	}
	if err != nil {
		return nil, fmt.Errorf("update share state: %w", err)
	}
	return rec, nil
}

// RefreshShareToken rotates the share capability of an active record.
func (s *PostgresStore) RefreshShareToken(ctx context.Context, userID, internalName string) (*model.FileRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		UPDATE file_records SET share_token=$3, updated_at=$4
		WHERE user_id=$1 AND internal_name=$2 AND NOT is_deleted
		RETURNING `+recordColumns,
		userID, internalName, uuid.NewString(), time.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordMissing
	}
	if err != nil {
		return nil, fmt.Errorf("refresh share token: %w", err)
	}
	return rec, nil
}

// FindByShareToken resolves a share token to its active record.
func (s *PostgresStore) FindByShareToken(ctx context.Context, token string) (*model.FileRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM file_records
		WHERE share_token=$1 AND NOT is_deleted
	`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordMissing
	}
	if err != nil {
		return nil, fmt.Errorf("select by share token: %w", err)
	}
	return rec, nil
}

// ReinstateRecord inserts a record with explicit version and upload date.
func (s *PostgresStore) ReinstateRecord(ctx context.Context, rec *model.FileRecord) (*model.FileRecord, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO file_records (internal_name, user_id, display_name, original_name, size, mime_type,
			checksum, version, visibility, share_token, is_deleted, uploaded_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,FALSE,$11,$12)
		RETURNING `+recordColumns,
		rec.InternalName, rec.UserID, rec.DisplayName, rec.OriginalName, rec.Size, rec.MimeType,
		rec.Checksum, rec.Version, model.VisibilityPrivate, uuid.NewString(), rec.UploadedAt, now)
	stored, err := scanRecord(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrNameConflict
		}
		return nil, fmt.Errorf("reinstate file record: %w", err)
	}
	return stored, nil
}

// SaveSnapshot persists a backup sidecar record.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.BackupSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backup_snapshots (id, user_id, display_name, source_internal_name, backup_object,
			original_uploaded_at, original_size, original_mime, version, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, snap.ID, snap.UserID, snap.DisplayName, snap.SourceInternalName, snap.BackupObject,
		snap.OriginalUploadedAt, snap.OriginalSize, snap.OriginalMime, snap.Version, snap.Reason, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns a snapshot by id.
func (s *PostgresStore) GetSnapshot(ctx context.Context, id string) (*model.BackupSnapshot, error) {
	var snap model.BackupSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, display_name, source_internal_name, backup_object, original_uploaded_at,
			original_size, original_mime, version, reason, created_at
		FROM backup_snapshots WHERE id=$1
	`, id).Scan(&snap.ID, &snap.UserID, &snap.DisplayName, &snap.SourceInternalName, &snap.BackupObject,
		&snap.OriginalUploadedAt, &snap.OriginalSize, &snap.OriginalMime, &snap.Version, &snap.Reason, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordMissing
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return &snap, nil
}

// DeleteSnapshot removes a snapshot row.
func (s *PostgresStore) DeleteSnapshot(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM backup_snapshots WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("delete snapshot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
