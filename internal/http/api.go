package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"media-uploader/internal/domain"
	"media-uploader/internal/service"
	"media-uploader/internal/storage"
)

// Handler wires HTTP routes to the upload orchestrator.
type Handler struct {
	uploads   service.UploadService
	jwtSecret string
	logger    *logrus.Logger
}

func NewHandler(uploads service.UploadService, jwtSecret string, logger *logrus.Logger) *Handler {
	return &Handler{
		uploads:   uploads,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	api.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	uploads := api.Group("/uploads")
	uploads.Use(authMiddleware(h.jwtSecret))
	{
		uploads.POST("", h.startUpload)
		uploads.POST("/bulk", h.startBulkUpload)
		uploads.GET("/:id", h.getUpload)
		uploads.GET("/:id/parts/:part", h.getPartAuthorization)
		uploads.POST("/:id/complete", h.completeUpload)
		uploads.POST("/:id/abort", h.abortUpload)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func authMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if header == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Next()
	}
}

type uploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

type bulkUploadRequest struct {
	Uploads []uploadRequest `json:"uploads" binding:"required"`
}

type reportedPart struct {
	PartNumber int32  `json:"part_number"`
	ETag       string `json:"etag"`
}

type completeUploadRequest struct {
	Parts []reportedPart `json:"parts" binding:"required"`
}

type UploadResponse struct {
	UploadID     string         `json:"upload_id"`
	ObjectKey    string         `json:"object_key"`
	Mode         string         `json:"mode"`
	Status       string         `json:"status"`
	IsMultipart  bool           `json:"is_multipart"`
	PresignedURL *string        `json:"presigned_url,omitempty"`
	ExpiresAt    *string        `json:"expires_at,omitempty"`
	Parts        []PartResponse `json:"parts,omitempty"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

type PartResponse struct {
	PartNumber int32  `json:"part_number"`
	Status     string `json:"status"`
	ETag       string `json:"etag,omitempty"`
}

type PartAuthorizationResponse struct {
	UploadID     string `json:"upload_id"`
	PartNumber   int32  `json:"part_number"`
	PresignedURL string `json:"presigned_url"`
	Method       string `json:"method"`
	ExpiresAt    string `json:"expires_at"`
}

func (h *Handler) startUpload(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.uploads.StartUpload(c.Request.Context(), service.UploadRequest{
		Filename:    req.Filename,
		FileSize:    req.FileSize,
		ContentType: req.ContentType,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, initiationToResponse(result))
}

func (h *Handler) startBulkUpload(c *gin.Context) {
	var req bulkUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reqs := make([]service.UploadRequest, len(req.Uploads))
	for i, u := range req.Uploads {
		reqs[i] = service.UploadRequest{
			Filename:    u.Filename,
			FileSize:    u.FileSize,
			ContentType: u.ContentType,
		}
	}

	results, err := h.uploads.StartBulkUpload(c.Request.Context(), reqs)
	if err != nil {
		h.renderError(c, err)
		return
	}

	resp := make([]UploadResponse, len(results))
	for i, r := range results {
		resp[i] = initiationToResponse(r)
	}
	c.JSON(http.StatusCreated, gin.H{"results": resp})
}

func (h *Handler) getUpload(c *gin.Context) {
	session, err := h.uploads.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionToResponse(session, nil))
}

func (h *Handler) getPartAuthorization(c *gin.Context) {
	id := c.Param("id")
	part, err := strconv.ParseInt(c.Param("part"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid part number"})
		return
	}

	auth, err := h.uploads.GetPartAuthorization(c.Request.Context(), id, int32(part))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, PartAuthorizationResponse{
		UploadID:     id,
		PartNumber:   int32(part),
		PresignedURL: auth.URL,
		Method:       auth.Method,
		ExpiresAt:    auth.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) completeUpload(c *gin.Context) {
	var req completeUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	parts := make([]domain.PartETag, len(req.Parts))
	for i, p := range req.Parts {
		parts[i] = domain.PartETag{PartNumber: p.PartNumber, ETag: p.ETag}
	}

	session, err := h.uploads.CompleteUpload(c.Request.Context(), c.Param("id"), parts)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionToResponse(session, nil))
}

func (h *Handler) abortUpload(c *gin.Context) {
	id := c.Param("id")
	if err := h.uploads.AbortUpload(c.Request.Context(), id); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"aborted": id})
}

// renderError maps the orchestrator's error taxonomy onto HTTP statuses:
// validation to 4xx, conflicts to 409, backend trouble to 5xx.
func (h *Handler) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrStateConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrCompletionRejected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrCredentialExpired):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrBackendUnavailable):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		h.logger.Errorf("upload request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func initiationToResponse(result *service.UploadInitiation) UploadResponse {
	return sessionToResponse(result.Session, result.Authorization)
}

func sessionToResponse(session *domain.UploadSession, auth *storage.Authorization) UploadResponse {
	resp := UploadResponse{
		UploadID:    session.ID,
		ObjectKey:   session.StorageKey,
		Mode:        string(session.Mode),
		Status:      string(session.Status),
		IsMultipart: session.Mode == domain.UploadModeMultipart,
		CreatedAt:   session.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   session.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if auth != nil {
		resp.PresignedURL = &auth.URL
		expires := auth.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &expires
	}
	for _, p := range session.Parts {
		resp.Parts = append(resp.Parts, PartResponse{
			PartNumber: p.PartNumber,
			Status:     string(p.Status),
			ETag:       p.ETag,
		})
	}
	return resp
}
