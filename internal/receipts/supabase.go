package receipts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	objectPathFormat = "%s/storage/v1/object/%s/%s"
	publicURLFormat  = "%s/storage/v1/object/public/%s/%s"
	cacheControl     = "3600"
)

// SupabaseStorage uploads receipts to a Supabase Storage bucket over its
// REST API.
type SupabaseStorage struct {
	baseURL    string
	serviceKey string
	bucket     string
	httpClient *http.Client
	nowFn      func() time.Time
}

// SupabaseOption configures the storage client.
type SupabaseOption func(*SupabaseStorage)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(client *http.Client) SupabaseOption {
	return func(storage *SupabaseStorage) {
		storage.httpClient = client
	}
}

// WithClock overrides the clock used for object naming (tests).
func WithClock(now func() time.Time) SupabaseOption {
	return func(storage *SupabaseStorage) {
		storage.nowFn = now
	}
}

// NewSupabaseStorage returns a client for the given project URL, service
// key, and bucket.
func NewSupabaseStorage(baseURL string, serviceKey string, bucket string, options ...SupabaseOption) (*SupabaseStorage, error) {
	if baseURL == "" || serviceKey == "" || bucket == "" {
		return nil, fmt.Errorf("%w: url, key, and bucket are required", ErrNotConfigured)
	}
	storage := &SupabaseStorage{
		baseURL:    trimTrailingSlash(baseURL),
		serviceKey: serviceKey,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		nowFn:      time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(storage)
		}
	}
	return storage, nil
}

// Upload stores the content under receipts/<userID>/<millis>_<name> with
// upsert semantics: a failed create is retried as an update before giving
// up. On success the object's public URL is returned.
func (storage *SupabaseStorage) Upload(ctx context.Context, userID string, filename string, content io.Reader) (string, error) {
	payload, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("%w: read content: %v", ErrUploadFailed, err)
	}
	objectPath := fmt.Sprintf("receipts/%s/%d_%s", userID, storage.nowFn().UnixMilli(), SanitizeFileName(filename))

	if err := storage.send(ctx, http.MethodPost, objectPath, payload); err != nil {
		// The object may already exist; try the update path once.
		if updateErr := storage.send(ctx, http.MethodPut, objectPath, payload); updateErr != nil {
			return "", updateErr
		}
	}
	return fmt.Sprintf(publicURLFormat, storage.baseURL, storage.bucket, objectPath), nil
}

func (storage *SupabaseStorage) send(ctx context.Context, method string, objectPath string, payload []byte) error {
	endpoint := fmt.Sprintf(objectPathFormat, storage.baseURL, storage.bucket, objectPath)
	request, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUploadFailed, err)
	}
	request.Header.Set("Authorization", "Bearer "+storage.serviceKey)
	request.Header.Set("Content-Type", "application/octet-stream")
	request.Header.Set("Cache-Control", cacheControl)
	request.Header.Set("x-upsert", "true")

	response, err := storage.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer response.Body.Close()
	if response.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrUploadFailed, response.StatusCode, string(body))
	}
	return nil
}

func trimTrailingSlash(raw string) string {
	for len(raw) > 0 && raw[len(raw)-1] == '/' {
		raw = raw[:len(raw)-1]
	}
	return raw
}

var _ Uploader = (*SupabaseStorage)(nil)
