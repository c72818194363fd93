package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FileCategory groups supported media by extension for per-category size caps.
type FileCategory string

const (
	CategoryVideo FileCategory = "video"
	CategoryAudio FileCategory = "audio"
	CategoryImage FileCategory = "image"
	CategoryText  FileCategory = "text"
)

const maxTotalFileSize = 10 << 30 // 10 GiB global cap

var supportedExtensions = map[FileCategory][]string{
	CategoryVideo: {".mp4", ".mov", ".avi", ".mkv"},
	CategoryAudio: {".mp3", ".wav", ".m4a", ".flac"},
	CategoryImage: {".jpg", ".jpeg", ".png", ".webp", ".tiff"},
	CategoryText:  {".txt", ".md", ".html", ".json"},
}

var maxCategorySizes = map[FileCategory]int64{
	CategoryVideo: 10 << 30,
	CategoryAudio: 2 << 30,
	CategoryImage: 100 << 20,
	CategoryText:  500 << 20,
}

var allowedContentTypes = map[string]struct{}{
	"video/mp4":        {},
	"video/quicktime":  {},
	"video/x-msvideo":  {},
	"video/x-matroska": {},
	"audio/mpeg":       {},
	"audio/wav":        {},
	"audio/mp4":        {},
	"audio/flac":       {},
	"image/jpeg":       {},
	"image/png":        {},
	"image/webp":       {},
	"image/tiff":       {},
	"text/plain":       {},
	"text/markdown":    {},
	"text/html":        {},
	"application/json": {},
}

// CategoryForFilename resolves the file's category from its extension.
func CategoryForFilename(filename string) (FileCategory, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	for category, extensions := range supportedExtensions {
		for _, e := range extensions {
			if ext == e {
				return category, nil
			}
		}
	}
	return "", fmt.Errorf("unsupported file type %q: %w", ext, ErrInvalidInput)
}

// ValidateFileSize checks size against the category cap and the global cap.
func ValidateFileSize(size int64, category FileCategory) error {
	if size <= 0 {
		return fmt.Errorf("file size must be positive, got %d: %w", size, ErrInvalidInput)
	}
	if max, ok := maxCategorySizes[category]; ok && size > max {
		return fmt.Errorf("file size %d exceeds %s limit of %d bytes: %w", size, category, max, ErrInvalidInput)
	}
	if size > maxTotalFileSize {
		return fmt.Errorf("file size %d exceeds global limit of %d bytes: %w", size, int64(maxTotalFileSize), ErrInvalidInput)
	}
	return nil
}

// ValidateContentType checks the declared MIME type against the allow-list.
func ValidateContentType(contentType string) error {
	if _, ok := allowedContentTypes[strings.ToLower(strings.TrimSpace(contentType))]; !ok {
		return fmt.Errorf("content type %q is not allowed: %w", contentType, ErrInvalidInput)
	}
	return nil
}
