package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"media-uploader/internal/domain"
	"media-uploader/internal/repository"
)

const createUploadSessionsTable = `
CREATE TABLE IF NOT EXISTS upload_sessions (
	id TEXT PRIMARY KEY,
	storage_key TEXT NOT NULL,
	mode TEXT NOT NULL,
	backend_upload_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	declared_size INTEGER NOT NULL,
	content_type TEXT NOT NULL,
	metadata_hash TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

type UploadSessionRepository struct {
	db *sql.DB
}

func NewUploadSessionRepository(db *sql.DB) repository.UploadSessionRepository {
	return &UploadSessionRepository{db: db}
}

func (r *UploadSessionRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUploadSessionsTable); err != nil {
		return fmt.Errorf("create upload_sessions table: %w", err)
	}
	return nil
}

func (r *UploadSessionRepository) Create(ctx context.Context, session *domain.UploadSession) error {
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO upload_sessions (id, storage_key, mode, backend_upload_id, status, original_filename, declared_size, content_type, metadata_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.StorageKey,
		string(session.Mode),
		session.BackendUploadID,
		string(session.Status),
		session.OriginalFilename,
		session.DeclaredSize,
		session.ContentType,
		session.MetadataHash,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert upload session %s: %w", session.ID, err)
	}
	return nil
}

func (r *UploadSessionRepository) Get(ctx context.Context, id string) (*domain.UploadSession, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, storage_key, mode, backend_upload_id, status, original_filename, declared_size, content_type, metadata_hash, created_at, updated_at
FROM upload_sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get upload session %s: %w", id, err)
	}
	return session, nil
}

func (r *UploadSessionRepository) UpdateStatus(ctx context.Context, id string, from, to domain.SessionStatus) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE upload_sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("update session %s status %s -> %s: %w", id, from, to, err)
	}
	return r.checkGuard(ctx, res, id, from, to)
}

func (r *UploadSessionRepository) MarkInProgress(ctx context.Context, id, backendUploadID string, from domain.SessionStatus) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE upload_sessions SET status = ?, backend_upload_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(domain.SessionStatusInProgress), backendUploadID, time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("mark session %s in progress: %w", id, err)
	}
	return r.checkGuard(ctx, res, id, from, domain.SessionStatusInProgress)
}

// checkGuard resolves a zero-row guarded update into not-found or conflict.
func (r *UploadSessionRepository) checkGuard(ctx context.Context, res sql.Result, id string, from, to domain.SessionStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for session %s: %w", id, err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM upload_sessions WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	if err != nil {
		return fmt.Errorf("re-read session %s status: %w", id, err)
	}
	return fmt.Errorf("session %s is %s, expected %s for transition to %s: %w",
		id, current, from, to, domain.ErrStateConflict)
}

type sessionScanner interface {
	Scan(dest ...any) error
}

func scanSession(row sessionScanner) (*domain.UploadSession, error) {
	var (
		session      domain.UploadSession
		mode, status string
	)
	err := row.Scan(
		&session.ID,
		&session.StorageKey,
		&mode,
		&session.BackendUploadID,
		&status,
		&session.OriginalFilename,
		&session.DeclaredSize,
		&session.ContentType,
		&session.MetadataHash,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	session.Mode = domain.UploadMode(mode)
	session.Status = domain.SessionStatus(status)
	return &session, nil
}
