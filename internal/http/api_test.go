package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-uploader/internal/domain"
	"media-uploader/internal/service"
	"media-uploader/internal/storage"
)

const testSecret = "test-secret"

type stubUploadService struct {
	startResult  *service.UploadInitiation
	startErr     error
	session      *domain.UploadSession
	sessionErr   error
	partAuth     *storage.Authorization
	partAuthErr  error
	completeErr  error
	abortErr     error
	abortedID    string
	completedID  string
	reportedPart []domain.PartETag
}

func (s *stubUploadService) StartUpload(ctx context.Context, req service.UploadRequest) (*service.UploadInitiation, error) {
	return s.startResult, s.startErr
}

func (s *stubUploadService) StartBulkUpload(ctx context.Context, reqs []service.UploadRequest) ([]*service.UploadInitiation, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	results := make([]*service.UploadInitiation, len(reqs))
	for i := range reqs {
		results[i] = s.startResult
	}
	return results, nil
}

func (s *stubUploadService) GetSession(ctx context.Context, id string) (*domain.UploadSession, error) {
	return s.session, s.sessionErr
}

func (s *stubUploadService) GetPartAuthorization(ctx context.Context, id string, partNumber int32) (*storage.Authorization, error) {
	return s.partAuth, s.partAuthErr
}

func (s *stubUploadService) CompleteUpload(ctx context.Context, id string, parts []domain.PartETag) (*domain.UploadSession, error) {
	s.completedID = id
	s.reportedPart = parts
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	return s.session, nil
}

func (s *stubUploadService) AbortUpload(ctx context.Context, id string) error {
	s.abortedID = id
	return s.abortErr
}

func newTestRouter(stub *stubUploadService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	router := gin.New()
	NewHandler(stub, testSecret, logger).RegisterRoutes(router)
	return router
}

func bearerToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "uploader-client",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func testSession() *domain.UploadSession {
	return &domain.UploadSession{
		ID:         "s1",
		StorageKey: "incoming/20260829/s1/a.mp4",
		Mode:       domain.UploadModeMultipart,
		Status:     domain.SessionStatusInProgress,
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	router := newTestRouter(&stubUploadService{})

	rec := doRequest(t, router, http.MethodPost, "/api/uploads", gin.H{}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/uploads/s1", nil, "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// health stays open
	rec = doRequest(t, router, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartUpload(t *testing.T) {
	url := "https://example/put"
	stub := &stubUploadService{
		startResult: &service.UploadInitiation{
			Session: &domain.UploadSession{
				ID:         "s1",
				StorageKey: "incoming/20260829/s1/b.jpg",
				Mode:       domain.UploadModeSingle,
				Status:     domain.SessionStatusInProgress,
			},
			Authorization: &storage.Authorization{URL: url, Method: "PUT", ExpiresAt: time.Now().Add(time.Hour)},
		},
	}
	router := newTestRouter(stub)

	rec := doRequest(t, router, http.MethodPost, "/api/uploads", gin.H{
		"filename":     "b.jpg",
		"file_size":    2048,
		"content_type": "image/jpeg",
	}, bearerToken(t))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.UploadID)
	assert.False(t, resp.IsMultipart)
	require.NotNil(t, resp.PresignedURL)
	assert.Equal(t, url, *resp.PresignedURL)
}

func TestStartUploadMissingFields(t *testing.T) {
	router := newTestRouter(&stubUploadService{})

	rec := doRequest(t, router, http.MethodPost, "/api/uploads", gin.H{"filename": "b.jpg"}, bearerToken(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("bad: %w", domain.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("gone: %w", domain.ErrSessionNotFound), http.StatusNotFound},
		{fmt.Errorf("state: %w", domain.ErrInvalidState), http.StatusConflict},
		{fmt.Errorf("race: %w", domain.ErrStateConflict), http.StatusConflict},
		{fmt.Errorf("nope: %w", domain.ErrCompletionRejected), http.StatusUnprocessableEntity},
		{fmt.Errorf("stale: %w", domain.ErrCredentialExpired), http.StatusServiceUnavailable},
		{fmt.Errorf("down: %w", domain.ErrBackendUnavailable), http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		stub := &stubUploadService{completeErr: tt.err}
		router := newTestRouter(stub)

		rec := doRequest(t, router, http.MethodPost, "/api/uploads/s1/complete", gin.H{
			"parts": []gin.H{{"part_number": 1, "etag": "e1"}},
		}, bearerToken(t))
		assert.Equal(t, tt.status, rec.Code, "error %v", tt.err)
	}
}

func TestGetPartAuthorization(t *testing.T) {
	stub := &stubUploadService{
		partAuth: &storage.Authorization{
			URL:       "https://example/part/5",
			Method:    "PUT",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	router := newTestRouter(stub)

	rec := doRequest(t, router, http.MethodGet, "/api/uploads/s1/parts/5", nil, bearerToken(t))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PartAuthorizationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int32(5), resp.PartNumber)
	assert.Equal(t, "https://example/part/5", resp.PresignedURL)

	rec = doRequest(t, router, http.MethodGet, "/api/uploads/s1/parts/notanumber", nil, bearerToken(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteUploadPassesReportedParts(t *testing.T) {
	stub := &stubUploadService{session: testSession()}
	router := newTestRouter(stub)

	rec := doRequest(t, router, http.MethodPost, "/api/uploads/s1/complete", gin.H{
		"parts": []gin.H{
			{"part_number": 2, "etag": "e2"},
			{"part_number": 1, "etag": "e1"},
		},
	}, bearerToken(t))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "s1", stub.completedID)
	require.Len(t, stub.reportedPart, 2)
	assert.Equal(t, int32(2), stub.reportedPart[0].PartNumber)
	assert.Equal(t, "e1", stub.reportedPart[1].ETag)
}

func TestAbortUpload(t *testing.T) {
	stub := &stubUploadService{}
	router := newTestRouter(stub)

	rec := doRequest(t, router, http.MethodPost, "/api/uploads/s1/abort", nil, bearerToken(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", stub.abortedID)
}
