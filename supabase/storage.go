package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// StorageClient handles Supabase Storage operations.
type StorageClient struct {
	client *Client
}

// escapeObjectPath escapes each path segment while keeping the separators, so
// keys like "user-id/clip.mp3" stay hierarchical.
func escapeObjectPath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// =============================================================================
// File Operations
// =============================================================================

// Upload uploads a file to storage under the given key.
func (s *StorageClient) Upload(ctx context.Context, bucketID, filePath string, data []byte, opts *UploadOptions) (*FileObject, error) {
	urlStr := fmt.Sprintf("%s/object/%s/%s", s.client.storageURL, bucketID, escapeObjectPath(filePath))

	headers := map[string]string{}
	if opts != nil {
		if opts.ContentType != "" {
			headers["Content-Type"] = opts.ContentType
		}
		if opts.CacheControl != "" {
			headers["Cache-Control"] = opts.CacheControl
		}
		if opts.Upsert {
			headers["x-upsert"] = "true"
		}
	}

	if headers["Content-Type"] == "" {
		headers["Content-Type"] = "application/octet-stream"
	}

	respBody, statusCode, err := s.client.request(ctx, "POST", urlStr, data, headers)
	if err != nil {
		return nil, err
	}

	if statusCode >= 400 {
		return nil, parseError(respBody, statusCode)
	}

	return &FileObject{
		Name:     path.Base(filePath),
		BucketID: bucketID,
	}, nil
}

// UploadWithToken uploads a file using a user's access token, so storage RLS
// policies apply to the caller rather than the anon role.
func (s *StorageClient) UploadWithToken(ctx context.Context, bucketID, filePath string, data []byte, opts *UploadOptions, accessToken string) (*FileObject, error) {
	urlStr := fmt.Sprintf("%s/object/%s/%s", s.client.storageURL, bucketID, escapeObjectPath(filePath))

	headers := map[string]string{}
	if opts != nil {
		if opts.ContentType != "" {
			headers["Content-Type"] = opts.ContentType
		}
		if opts.CacheControl != "" {
			headers["Cache-Control"] = opts.CacheControl
		}
		if opts.Upsert {
			headers["x-upsert"] = "true"
		}
	}

	if headers["Content-Type"] == "" {
		headers["Content-Type"] = "application/octet-stream"
	}

	respBody, statusCode, err := s.client.requestWithToken(ctx, "POST", urlStr, data, headers, accessToken)
	if err != nil {
		return nil, err
	}

	if statusCode >= 400 {
		return nil, parseError(respBody, statusCode)
	}

	return &FileObject{
		Name:     path.Base(filePath),
		BucketID: bucketID,
	}, nil
}

// Download downloads a file from storage.
func (s *StorageClient) Download(ctx context.Context, bucketID, filePath string) ([]byte, error) {
	urlStr := fmt.Sprintf("%s/object/%s/%s", s.client.storageURL, bucketID, escapeObjectPath(filePath))

	respBody, statusCode, err := s.client.request(ctx, "GET", urlStr, nil, nil)
	if err != nil {
		return nil, err
	}

	if statusCode >= 400 {
		return nil, parseError(respBody, statusCode)
	}

	return respBody, nil
}

// sendFunc issues one HTTP request under some credential.
type sendFunc func(ctx context.Context, method, urlStr string, body []byte, headers map[string]string) ([]byte, int, error)

// Remove deletes files from storage under the anon role.
func (s *StorageClient) Remove(ctx context.Context, bucketID string, filePaths []string) error {
	return s.remove(ctx, bucketID, filePaths, s.client.request)
}

// RemoveWithToken deletes files using a user's access token, so storage RLS
// policies apply to the caller rather than the anon role.
func (s *StorageClient) RemoveWithToken(ctx context.Context, bucketID string, filePaths []string, accessToken string) error {
	return s.remove(ctx, bucketID, filePaths, func(ctx context.Context, method, urlStr string, body []byte, headers map[string]string) ([]byte, int, error) {
		return s.client.requestWithToken(ctx, method, urlStr, body, headers, accessToken)
	})
}

// RemoveWithServiceKey deletes files with the service role key, bypassing RLS.
func (s *StorageClient) RemoveWithServiceKey(ctx context.Context, bucketID string, filePaths []string) error {
	return s.remove(ctx, bucketID, filePaths, s.client.requestWithServiceKey)
}

func (s *StorageClient) remove(ctx context.Context, bucketID string, filePaths []string, send sendFunc) error {
	urlStr := fmt.Sprintf("%s/object/%s", s.client.storageURL, bucketID)

	req := map[string]interface{}{
		"prefixes": filePaths,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	respBody, statusCode, err := send(ctx, "DELETE", urlStr, body, nil)
	if err != nil {
		return err
	}

	if statusCode >= 400 {
		return parseError(respBody, statusCode)
	}

	return nil
}

// List lists files in a bucket under a prefix with the anon role.
func (s *StorageClient) List(ctx context.Context, bucketID, prefix string, limit, offset int) ([]FileObject, error) {
	return s.list(ctx, bucketID, prefix, limit, offset, s.client.request)
}

// ListWithToken lists files using a user's access token.
func (s *StorageClient) ListWithToken(ctx context.Context, bucketID, prefix string, limit, offset int, accessToken string) ([]FileObject, error) {
	return s.list(ctx, bucketID, prefix, limit, offset, func(ctx context.Context, method, urlStr string, body []byte, headers map[string]string) ([]byte, int, error) {
		return s.client.requestWithToken(ctx, method, urlStr, body, headers, accessToken)
	})
}

// ListWithServiceKey lists files with the service role key, bypassing RLS.
func (s *StorageClient) ListWithServiceKey(ctx context.Context, bucketID, prefix string, limit, offset int) ([]FileObject, error) {
	return s.list(ctx, bucketID, prefix, limit, offset, s.client.requestWithServiceKey)
}

func (s *StorageClient) list(ctx context.Context, bucketID, prefix string, limit, offset int, send sendFunc) ([]FileObject, error) {
	urlStr := fmt.Sprintf("%s/object/list/%s", s.client.storageURL, bucketID)

	req := map[string]interface{}{
		"prefix": prefix,
		"limit":  limit,
		"offset": offset,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, statusCode, err := send(ctx, "POST", urlStr, body, nil)
	if err != nil {
		return nil, err
	}

	if statusCode >= 400 {
		return nil, parseError(respBody, statusCode)
	}

	var files []FileObject
	if err := json.Unmarshal(respBody, &files); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return files, nil
}

// GetPublicURL returns the public URL for a file in a public bucket. The URL
// is stable for the lifetime of the key.
func (s *StorageClient) GetPublicURL(bucketID, filePath string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", s.client.storageURL, bucketID, escapeObjectPath(filePath))
}

// CreateSignedURL creates a signed URL for temporary access to a private file.
func (s *StorageClient) CreateSignedURL(ctx context.Context, bucketID, filePath string, expiresIn int) (string, error) {
	urlStr := fmt.Sprintf("%s/object/sign/%s/%s", s.client.storageURL, bucketID, escapeObjectPath(filePath))

	req := map[string]interface{}{
		"expiresIn": expiresIn,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	respBody, statusCode, err := s.client.request(ctx, "POST", urlStr, body, nil)
	if err != nil {
		return "", err
	}

	if statusCode >= 400 {
		return "", parseError(respBody, statusCode)
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	return s.client.baseURL + result.SignedURL, nil
}

// =============================================================================
// Bucket Operations
// =============================================================================

// CreateBucket creates a new storage bucket. Requires the service key.
func (s *StorageClient) CreateBucket(ctx context.Context, bucketID string, public bool) (*Bucket, error) {
	req := map[string]interface{}{
		"id":     bucketID,
		"name":   bucketID,
		"public": public,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, statusCode, err := s.client.requestWithServiceKey(ctx, "POST", s.client.storageURL+"/bucket", body, nil)
	if err != nil {
		return nil, err
	}

	if statusCode >= 400 {
		return nil, parseError(respBody, statusCode)
	}

	var bucket Bucket
	if err := json.Unmarshal(respBody, &bucket); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &bucket, nil
}

// GetBucket retrieves a bucket by ID. Requires the service key.
func (s *StorageClient) GetBucket(ctx context.Context, bucketID string) (*Bucket, error) {
	respBody, statusCode, err := s.client.requestWithServiceKey(ctx, "GET", s.client.storageURL+"/bucket/"+bucketID, nil, nil)
	if err != nil {
		return nil, err
	}

	if statusCode >= 400 {
		return nil, parseError(respBody, statusCode)
	}

	var bucket Bucket
	if err := json.Unmarshal(respBody, &bucket); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &bucket, nil
}
