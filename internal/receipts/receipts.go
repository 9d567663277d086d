// Package receipts uploads receipt artifacts to an object-storage bucket
// and returns their public URLs. Upload failure is always non-fatal for
// callers: the ledger mutation proceeds with a fallback receipt URL or none.
package receipts

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
)

// Errors returned by uploaders.
var (
	ErrUploadFailed  = errors.New("receipt upload failed")
	ErrNotConfigured = errors.New("receipt storage not configured")
)

// Uploader stores a receipt under the user's prefix and returns its
// public URL.
type Uploader interface {
	Upload(ctx context.Context, userID string, filename string, content io.Reader) (string, error)
}

var unsafeFileNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFileName lowercases the name and replaces anything outside
// [A-Za-z0-9._-] with underscores.
func SanitizeFileName(name string) string {
	return unsafeFileNameChars.ReplaceAllString(strings.ToLower(name), "_")
}
