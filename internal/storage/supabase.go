package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SupabaseBackend stores objects through the Supabase storage REST API.
type SupabaseBackend struct {
	baseURL string
	bucket  string
	key     string

	client *http.Client
}

// NewSupabaseBackend returns a backend uploading to bucket with the given API key.
func NewSupabaseBackend(baseURL, bucket, key string) *SupabaseBackend {
	return &SupabaseBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		bucket:  bucket,
		key:     key,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

type supabaseUploadResponse struct {
	Key     string `json:"Key"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Put uploads body at key. Existing objects are never overwritten.
func (b *SupabaseBackend) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", b.baseURL, escapePath(b.bucket), escapePath(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("could not create request: %v", err)
	}
	req.ContentLength = size
	req.Header.Set("Authorization", "Bearer "+b.key)
	req.Header.Set("apikey", b.key)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var r supabaseUploadResponse
	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	decErr := dec.Decode(&r)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := r.Message
		if detail == "" {
			detail = r.Error
		}
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("storage responded %d: %s", resp.StatusCode, detail)
	}
	if decErr != nil {
		return "", fmt.Errorf("invalid storage response: %v", decErr)
	}

	// The API answers with the key prefixed by the bucket name.
	stored := strings.TrimPrefix(r.Key, b.bucket+"/")
	if stored == "" {
		stored = key
	}
	return stored, nil
}
