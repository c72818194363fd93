package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"media-uploader/internal/domain"
	"media-uploader/internal/repository"
)

const createUploadPartsTable = `
CREATE TABLE IF NOT EXISTS upload_parts (
	session_id TEXT NOT NULL REFERENCES upload_sessions(id) ON DELETE CASCADE,
	part_number INTEGER NOT NULL,
	etag TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, part_number)
);
`

type UploadPartRepository struct {
	db *sql.DB
}

func NewUploadPartRepository(db *sql.DB) repository.UploadPartRepository {
	return &UploadPartRepository{db: db}
}

func (r *UploadPartRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUploadPartsTable); err != nil {
		return fmt.Errorf("create upload_parts table: %w", err)
	}
	return nil
}

func (r *UploadPartRepository) Authorize(ctx context.Context, sessionID string, partNumber int32) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO upload_parts (session_id, part_number, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(session_id, part_number) DO NOTHING`,
		sessionID, partNumber, string(domain.PartStatusAuthorized), now, now)
	if err != nil {
		return fmt.Errorf("authorize part %d of session %s: %w", partNumber, sessionID, err)
	}
	return nil
}

func (r *UploadPartRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.UploadPart, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT session_id, part_number, etag, status, created_at, updated_at
FROM upload_parts WHERE session_id = ? ORDER BY part_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list parts of session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var parts []domain.UploadPart
	for rows.Next() {
		var (
			part   domain.UploadPart
			status string
		)
		if err := rows.Scan(&part.SessionID, &part.PartNumber, &part.ETag, &status, &part.CreatedAt, &part.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan part of session %s: %w", sessionID, err)
		}
		part.Status = domain.PartStatus(status)
		parts = append(parts, part)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parts of session %s: %w", sessionID, err)
	}
	return parts, nil
}

func (r *UploadPartRepository) MarkUploaded(ctx context.Context, sessionID string, parts []domain.PartETag) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark uploaded for session %s: %w", sessionID, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, p := range parts {
		res, err := tx.ExecContext(ctx, `
UPDATE upload_parts SET etag = ?, status = ?, updated_at = ?
WHERE session_id = ? AND part_number = ?`,
			p.ETag, string(domain.PartStatusUploaded), now, sessionID, p.PartNumber)
		if err != nil {
			return fmt.Errorf("mark part %d of session %s uploaded: %w", p.PartNumber, sessionID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for part %d of session %s: %w", p.PartNumber, sessionID, err)
		}
		if affected == 0 {
			return fmt.Errorf("part %d of session %s was never authorized: %w", p.PartNumber, sessionID, domain.ErrInvalidInput)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark uploaded for session %s: %w", sessionID, err)
	}
	return nil
}
