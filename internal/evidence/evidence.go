package evidence

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingRef      = errors.New("payment evidence reference is required")
	ErrUnsupportedType = errors.New("payment evidence must be a JPEG, PNG, WebP image or a PDF")
	ErrEmpty           = errors.New("payment evidence file is empty")
	ErrTooLarge        = errors.New("payment evidence file is too large")
)

// DefaultMaxBytes caps uploaded proofs of payment.
const DefaultMaxBytes int64 = 5 << 20

var allowedTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Evidence points at an uploaded proof of payment held by file storage.
type Evidence struct {
	Ref         string
	ContentType string
	SizeBytes   int64
}

// NormalizeContentType strips parameters and lowercases a MIME type.
func NormalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// CheckFile validates type and size before anything is stored.
func CheckFile(contentType string, size, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if _, ok := allowedTypes[NormalizeContentType(contentType)]; !ok {
		return fmt.Errorf("%w: got %q", ErrUnsupportedType, contentType)
	}
	if size <= 0 {
		return ErrEmpty
	}
	if size > maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, size, maxBytes)
	}
	return nil
}

// Validate checks a stored evidence reference.
func (e Evidence) Validate(maxBytes int64) error {
	if strings.TrimSpace(e.Ref) == "" {
		return ErrMissingRef
	}
	return CheckFile(e.ContentType, e.SizeBytes, maxBytes)
}

func extensionFor(contentType string) string {
	return allowedTypes[NormalizeContentType(contentType)]
}
