package domain

import "time"

type UploadMode string

const (
	UploadModeSingle    UploadMode = "single"
	UploadModeMultipart UploadMode = "multipart"
)

type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusAborted    SessionStatus = "aborted"
	SessionStatusFailed     SessionStatus = "failed"
)

type PartStatus string

const (
	PartStatusAuthorized PartStatus = "authorized"
	PartStatusUploaded   PartStatus = "uploaded"
)

// UploadSession tracks one logical file upload from initiation to a terminal state.
// BackendUploadID is set only for multipart sessions once the storage backend has
// acknowledged session creation.
type UploadSession struct {
	ID               string
	StorageKey       string
	Mode             UploadMode
	BackendUploadID  string
	Status           SessionStatus
	OriginalFilename string
	DeclaredSize     int64
	ContentType      string
	MetadataHash     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Parts            []UploadPart
}

// UploadPart is one authorized part of a multipart session. The ETag is empty
// until the client reports the part at completion time; the orchestrator never
// polls storage to infer it.
type UploadPart struct {
	SessionID  string
	PartNumber int32
	ETag       string
	Status     PartStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PartETag is a client-reported (part number, etag) pair used at completion.
type PartETag struct {
	PartNumber int32
	ETag       string
}
