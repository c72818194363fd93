package repository

import (
	"context"

	"media-uploader/internal/domain"
)

// UploadSessionRepository is the authoritative record of in-flight uploads.
// Status transitions are guarded by optimistic concurrency: they only apply
// when the stored status matches the expected prior status, and a mismatch
// fails with domain.ErrStateConflict instead of overwriting.
type UploadSessionRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, session *domain.UploadSession) error
	Get(ctx context.Context, id string) (*domain.UploadSession, error)
	// UpdateStatus transitions id from -> to, refreshing updated_at.
	UpdateStatus(ctx context.Context, id string, from, to domain.SessionStatus) error
	// MarkInProgress records the backend-assigned multipart identifier while
	// transitioning from -> in_progress in one guarded write.
	MarkInProgress(ctx context.Context, id, backendUploadID string, from domain.SessionStatus) error
}

// UploadPartRepository manages per-part sub-records of multipart sessions.
// Parts are keyed by (session_id, part_number) and have no independent
// lifecycle outside their owning session.
type UploadPartRepository interface {
	Init(ctx context.Context) error
	// Authorize upserts the part record; re-authorizing an existing part is a
	// no-op so repeated authorization requests never create duplicates.
	Authorize(ctx context.Context, sessionID string, partNumber int32) error
	ListBySession(ctx context.Context, sessionID string) ([]domain.UploadPart, error)
	// MarkUploaded records the reported ETags and flips the parts to uploaded.
	MarkUploaded(ctx context.Context, sessionID string, parts []domain.PartETag) error
}
