package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"media-uploader/internal/domain"
	"media-uploader/internal/repository"
	"media-uploader/internal/storage"
)

// S3 caps multipart uploads at 10000 parts.
const maxPartNumber = 10000

// UploadRequest carries caller-declared metadata for one upload.
type UploadRequest struct {
	Filename    string
	FileSize    int64
	ContentType string
}

// UploadInitiation is the result of starting an upload. Authorization is set
// only for single-shot sessions; multipart clients request part authorizations
// on demand.
type UploadInitiation struct {
	Session       *domain.UploadSession
	Authorization *storage.Authorization
}

// UploadService sequences upload sessions: it validates requests, drives the
// session state machine, and reconciles the session store against the storage
// backend's authoritative outcomes.
type UploadService interface {
	StartUpload(ctx context.Context, req UploadRequest) (*UploadInitiation, error)
	StartBulkUpload(ctx context.Context, reqs []UploadRequest) ([]*UploadInitiation, error)
	GetSession(ctx context.Context, id string) (*domain.UploadSession, error)
	GetPartAuthorization(ctx context.Context, id string, partNumber int32) (*storage.Authorization, error)
	CompleteUpload(ctx context.Context, id string, parts []domain.PartETag) (*domain.UploadSession, error)
	AbortUpload(ctx context.Context, id string) error
}

// Config tunes the orchestrator.
type Config struct {
	// MultipartThreshold is the declared size above which uploads go multipart.
	MultipartThreshold int64
	// KeyPrefix roots all storage keys, e.g. "incoming".
	KeyPrefix string
}

type uploadService struct {
	sessions  repository.UploadSessionRepository
	parts     repository.UploadPartRepository
	backend   storage.Backend
	signer    storage.Signer
	threshold int64
	keyPrefix string
	logger    *logrus.Logger
	now       func() time.Time
	newID     func() string
}

func NewUploadService(
	sessions repository.UploadSessionRepository,
	parts repository.UploadPartRepository,
	backend storage.Backend,
	signer storage.Signer,
	cfg Config,
	logger *logrus.Logger,
) UploadService {
	threshold := cfg.MultipartThreshold
	if threshold <= 0 {
		threshold = 100 << 20
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "incoming"
	}
	return &uploadService{
		sessions:  sessions,
		parts:     parts,
		backend:   backend,
		signer:    signer,
		threshold: threshold,
		keyPrefix: prefix,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (s *uploadService) StartUpload(ctx context.Context, req UploadRequest) (*UploadInitiation, error) {
	category, err := domain.CategoryForFilename(req.Filename)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateFileSize(req.FileSize, category); err != nil {
		return nil, err
	}
	if err := domain.ValidateContentType(req.ContentType); err != nil {
		return nil, err
	}

	id := s.newID()
	now := s.now().UTC()
	session := &domain.UploadSession{
		ID:               id,
		StorageKey:       path.Join(s.keyPrefix, now.Format("20060102"), id, path.Base(req.Filename)),
		Status:           domain.SessionStatusInProgress,
		OriginalFilename: req.Filename,
		DeclaredSize:     req.FileSize,
		ContentType:      req.ContentType,
		MetadataHash:     metadataHash(req.Filename, req.FileSize, req.ContentType),
	}

	if req.FileSize <= s.threshold {
		session.Mode = domain.UploadModeSingle
		return s.startSingle(ctx, session)
	}
	session.Mode = domain.UploadModeMultipart
	return s.startMultipart(ctx, session)
}

// startSingle issues the one presigned PUT before persisting; a signing
// failure leaves no row behind.
func (s *uploadService) startSingle(ctx context.Context, session *domain.UploadSession) (*UploadInitiation, error) {
	auth, err := s.signer.IssueForSingle(ctx, session.StorageKey, session.ContentType)
	if err != nil {
		return nil, fmt.Errorf("start single upload for %s: %w", session.StorageKey, err)
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Infof("started single upload session %s for %s (%d bytes)",
		session.ID, session.OriginalFilename, session.DeclaredSize)
	return &UploadInitiation{Session: session, Authorization: auth}, nil
}

// startMultipart persists the pending row first, then asks the backend to
// open the multipart session. Once backend creation has been attempted the
// row never stays pending: it moves to in_progress or failed.
func (s *uploadService) startMultipart(ctx context.Context, session *domain.UploadSession) (*UploadInitiation, error) {
	session.Status = domain.SessionStatusPending
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	backendID, err := s.backend.CreateMultipartSession(ctx, session.StorageKey, session.ContentType)
	if err != nil {
		if failErr := s.sessions.UpdateStatus(ctx, session.ID, domain.SessionStatusPending, domain.SessionStatusFailed); failErr != nil {
			s.logger.Warnf("mark session %s failed: %v", session.ID, failErr)
		}
		return nil, fmt.Errorf("start multipart upload session %s: %w", session.ID, err)
	}

	if err := s.sessions.MarkInProgress(ctx, session.ID, backendID, domain.SessionStatusPending); err != nil {
		return nil, err
	}
	session.Status = domain.SessionStatusInProgress
	session.BackendUploadID = backendID

	s.logger.Infof("started multipart upload session %s for %s (%d bytes, backend id %s)",
		session.ID, session.OriginalFilename, session.DeclaredSize, backendID)
	return &UploadInitiation{Session: session}, nil
}

func (s *uploadService) StartBulkUpload(ctx context.Context, reqs []UploadRequest) ([]*UploadInitiation, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("empty bulk upload batch: %w", domain.ErrInvalidInput)
	}

	results := make([]*UploadInitiation, 0, len(reqs))
	for _, req := range reqs {
		result, err := s.StartUpload(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("bulk upload item %q: %w", req.Filename, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *uploadService) GetSession(ctx context.Context, id string) (*domain.UploadSession, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Mode == domain.UploadModeMultipart {
		parts, err := s.parts.ListBySession(ctx, id)
		if err != nil {
			return nil, err
		}
		session.Parts = parts
	}
	return session, nil
}

func (s *uploadService) GetPartAuthorization(ctx context.Context, id string, partNumber int32) (*storage.Authorization, error) {
	if partNumber <= 0 || partNumber > maxPartNumber {
		return nil, fmt.Errorf("part number %d out of range 1..%d: %w", partNumber, maxPartNumber, domain.ErrInvalidInput)
	}

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Mode != domain.UploadModeMultipart {
		return nil, fmt.Errorf("session %s is %s mode: %w", id, session.Mode, domain.ErrInvalidState)
	}
	if session.Status != domain.SessionStatusInProgress {
		return nil, fmt.Errorf("session %s is %s, part authorization requires in_progress: %w",
			id, session.Status, domain.ErrInvalidState)
	}

	// Upsert keyed by (session, part): re-requesting before the part is
	// reported just re-signs, it never duplicates the record.
	if err := s.parts.Authorize(ctx, id, partNumber); err != nil {
		return nil, err
	}

	auth, err := s.signer.IssueForPart(ctx, session.BackendUploadID, session.StorageKey, partNumber)
	if err != nil {
		return nil, fmt.Errorf("authorize part %d of session %s: %w", partNumber, id, err)
	}
	return auth, nil
}

func (s *uploadService) CompleteUpload(ctx context.Context, id string, reported []domain.PartETag) (*domain.UploadSession, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.SessionStatusInProgress {
		return nil, fmt.Errorf("session %s is %s, completion requires in_progress: %w",
			id, session.Status, domain.ErrInvalidState)
	}

	if session.Mode == domain.UploadModeSingle {
		return s.completeSingle(ctx, session, reported)
	}
	return s.completeMultipart(ctx, session, reported)
}

func (s *uploadService) completeSingle(ctx context.Context, session *domain.UploadSession, reported []domain.PartETag) (*domain.UploadSession, error) {
	if len(reported) != 1 || reported[0].ETag == "" {
		return nil, fmt.Errorf("single upload session %s requires exactly one reported etag: %w",
			session.ID, domain.ErrInvalidInput)
	}

	if err := s.sessions.UpdateStatus(ctx, session.ID, domain.SessionStatusInProgress, domain.SessionStatusCompleted); err != nil {
		return nil, err
	}
	session.Status = domain.SessionStatusCompleted

	s.logger.Infof("completed single upload session %s (%s)", session.ID, session.StorageKey)
	return session, nil
}

func (s *uploadService) completeMultipart(ctx context.Context, session *domain.UploadSession, reported []domain.PartETag) (*domain.UploadSession, error) {
	authorized, err := s.parts.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	ordered, err := reconcileParts(session.ID, authorized, reported)
	if err != nil {
		return nil, err
	}

	// Storage-side assembly is order-sensitive; parts go out ascending by
	// number no matter how the caller reported them.
	if err := s.backend.CompleteMultipartSession(ctx, session.StorageKey, session.BackendUploadID, ordered); err != nil {
		return nil, fmt.Errorf("complete session %s: %w", session.ID, err)
	}

	if err := s.parts.MarkUploaded(ctx, session.ID, ordered); err != nil {
		return nil, err
	}
	if err := s.sessions.UpdateStatus(ctx, session.ID, domain.SessionStatusInProgress, domain.SessionStatusCompleted); err != nil {
		return nil, err
	}
	session.Status = domain.SessionStatusCompleted

	parts, err := s.parts.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	session.Parts = parts

	s.logger.Infof("completed multipart upload session %s (%s, %d parts)",
		session.ID, session.StorageKey, len(ordered))
	return session, nil
}

// reconcileParts validates that the reported set covers every authorized part
// exactly once, with no duplicates, unknowns, or empty etags, and returns it
// sorted ascending by part number.
func reconcileParts(sessionID string, authorized []domain.UploadPart, reported []domain.PartETag) ([]domain.PartETag, error) {
	if len(authorized) == 0 {
		return nil, fmt.Errorf("session %s has no authorized parts: %w", sessionID, domain.ErrInvalidInput)
	}

	known := make(map[int32]struct{}, len(authorized))
	for _, p := range authorized {
		known[p.PartNumber] = struct{}{}
	}

	seen := make(map[int32]struct{}, len(reported))
	ordered := make([]domain.PartETag, 0, len(reported))
	for _, p := range reported {
		if _, ok := known[p.PartNumber]; !ok {
			return nil, fmt.Errorf("part %d of session %s was never authorized: %w",
				p.PartNumber, sessionID, domain.ErrInvalidInput)
		}
		if _, dup := seen[p.PartNumber]; dup {
			return nil, fmt.Errorf("part %d of session %s reported twice: %w",
				p.PartNumber, sessionID, domain.ErrInvalidInput)
		}
		if p.ETag == "" {
			return nil, fmt.Errorf("part %d of session %s reported with empty etag: %w",
				p.PartNumber, sessionID, domain.ErrInvalidInput)
		}
		seen[p.PartNumber] = struct{}{}
		ordered = append(ordered, p)
	}

	for _, p := range authorized {
		if _, ok := seen[p.PartNumber]; !ok {
			return nil, fmt.Errorf("part %d of session %s authorized but not reported: %w",
				p.PartNumber, sessionID, domain.ErrInvalidInput)
		}
	}

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PartNumber < ordered[j].PartNumber })
	return ordered, nil
}

func (s *uploadService) AbortUpload(ctx context.Context, id string) error {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}

	switch session.Status {
	case domain.SessionStatusAborted:
		// Two cancellation triggers may overlap; the second is a no-op and
		// must not hit the backend again.
		s.logger.Debugf("session %s already aborted", id)
		return nil
	case domain.SessionStatusPending, domain.SessionStatusInProgress:
	default:
		return fmt.Errorf("session %s is %s, abort requires pending or in_progress: %w",
			id, session.Status, domain.ErrInvalidState)
	}

	if session.Mode == domain.UploadModeMultipart && session.BackendUploadID != "" {
		if err := s.backend.AbortMultipartSession(ctx, session.StorageKey, session.BackendUploadID); err != nil {
			return fmt.Errorf("abort session %s: %w", id, err)
		}
	}

	if err := s.sessions.UpdateStatus(ctx, id, session.Status, domain.SessionStatusAborted); err != nil {
		// A concurrent abort may have won the transition; that still counts
		// as an aborted session.
		fresh, getErr := s.sessions.Get(ctx, id)
		if getErr == nil && fresh.Status == domain.SessionStatusAborted && errors.Is(err, domain.ErrStateConflict) {
			return nil
		}
		return err
	}

	s.logger.Infof("aborted upload session %s (%s)", id, session.StorageKey)
	return nil
}

// metadataHash fingerprints caller-declared metadata for duplicate detection.
func metadataHash(filename string, size int64, contentType string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%d:%s", filename, size, contentType))
	return hex.EncodeToString(sum[:])
}
