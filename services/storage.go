package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BlobStore persists uploaded recording audio and hands back a URL the
// pipeline can later fetch it from.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (url string, err error)
	Get(ctx context.Context, url string) (io.ReadCloser, error)
	Delete(ctx context.Context, url string) error
}

// LocalBlobStore keeps audio files on the local filesystem under a base
// directory and serves them from a base URL.
type LocalBlobStore struct {
	dir     string
	baseURL string
}

func NewLocalBlobStore(dir, baseURL string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &LocalBlobStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalBlobStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create storage dir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close audio file: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return "", fmt.Errorf("failed to store audio file: %w", err)
	}

	url := s.baseURL + "/" + key
	slog.Info("Stored audio file", "key", key, "url", url)
	return url, nil
}

func (s *LocalBlobStore) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	key, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok {
		return nil, fmt.Errorf("audio url %q is not served by this store", url)
	}
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	return f, nil
}

func (s *LocalBlobStore) Delete(ctx context.Context, url string) error {
	key, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok {
		return fmt.Errorf("audio url %q is not served by this store", url)
	}
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete audio file: %w", err)
	}
	return nil
}

// Dir returns the storage root, for mounting a static file handler.
func (s *LocalBlobStore) Dir() string {
	return s.dir
}

// BucketBlobStore talks to an S3-compatible HTTP object store. Objects are
// keyed under the bucket and addressed by their public URL.
type BucketBlobStore struct {
	bucketURL string
	apiKey    string
	client    *http.Client
}

func NewBucketBlobStore(bucketURL, apiKey string) *BucketBlobStore {
	return &BucketBlobStore{
		bucketURL: strings.TrimRight(bucketURL, "/"),
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *BucketBlobStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	url := s.bucketURL + "/" + key
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, r)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("bucket upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	slog.Info("Uploaded audio to bucket", "key", key)
	return url, nil
}

func (s *BucketBlobStore) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("bucket download failed with status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (s *BucketBlobStore) Delete(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("bucket delete failed with status %d", resp.StatusCode)
	}
	return nil
}

// NewBlobStore builds the configured storage backend.
func NewBlobStore(cfg StorageConfig) (BlobStore, error) {
	switch cfg.Backend {
	case "bucket":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("storage backend is bucket but no bucket URL configured")
		}
		return NewBucketBlobStore(cfg.Bucket, cfg.APIKey), nil
	case "local", "":
		return NewLocalBlobStore(cfg.Dir, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
