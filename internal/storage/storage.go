package storage

import (
	"context"
	"net/http"
	"time"

	"media-uploader/internal/domain"
)

// Authorization is a time-limited presigned request that lets a client write
// one object (or one part) directly to the storage backend.
type Authorization struct {
	URL          string
	Method       string
	SignedHeader http.Header
	ExpiresAt    time.Time
}

// Backend performs the storage-side multipart lifecycle calls. All calls are
// signed with the current temporary credential and bounded by the configured
// call timeout.
type Backend interface {
	CreateMultipartSession(ctx context.Context, key, contentType string) (string, error)
	CompleteMultipartSession(ctx context.Context, key, backendUploadID string, parts []domain.PartETag) error
	AbortMultipartSession(ctx context.Context, key, backendUploadID string) error
}

// Signer issues presigned write authorizations. Issuance is purely computed:
// stateless, non-persisted, and safe for unbounded concurrency.
type Signer interface {
	IssueForSingle(ctx context.Context, key, contentType string) (*Authorization, error)
	IssueForPart(ctx context.Context, backendUploadID, key string, partNumber int32) (*Authorization, error)
}
