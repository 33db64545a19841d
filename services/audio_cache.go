package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// AudioCache provides filesystem-based caching for synthesized speech. Chat
// replies repeat across sessions far less than UI phrases do, so caching is
// keyed purely on text and voice and bounded by a size cap instead of a
// phrase allowlist.
type AudioCache struct {
	cacheDir string
	maxBytes int64
	mutex    sync.RWMutex
}

// NewAudioCache creates a new audio cache with the specified directory
func NewAudioCache(cacheDir string) *AudioCache {
	// Create cache directory if it doesn't exist
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		slog.Error("Failed to create cache directory", "dir", cacheDir, "error", err)
	}

	return &AudioCache{
		cacheDir: cacheDir,
		maxBytes: 512 << 20,
	}
}

// generateCacheKey creates a unique key for caching based on text and voice ID
func (ac *AudioCache) generateCacheKey(text, voiceID string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", text, voiceID)))
	return hex.EncodeToString(hash[:])
}

// getCachePath returns the full path for a cache file
func (ac *AudioCache) getCachePath(key string) string {
	return filepath.Join(ac.cacheDir, key+".mp3")
}

// Get retrieves cached audio data if it exists
func (ac *AudioCache) Get(ctx context.Context, text, voiceID string) ([]byte, bool) {
	ac.mutex.RLock()
	defer ac.mutex.RUnlock()

	key := ac.generateCacheKey(text, voiceID)
	cachePath := ac.getCachePath(key)

	data, err := os.ReadFile(cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read cached audio", "path", cachePath, "error", err)
		}
		return nil, false
	}

	slog.Info("Audio cache hit", "voice_id", voiceID, "text_length", len(text))
	return data, true
}

// Set stores audio data in the cache
func (ac *AudioCache) Set(ctx context.Context, text, voiceID string, audioData []byte) error {
	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	if _, size, err := ac.statsLocked(); err == nil && size+int64(len(audioData)) > ac.maxBytes {
		slog.Warn("Audio cache full, skipping cache write", "size", size)
		return nil
	}

	key := ac.generateCacheKey(text, voiceID)
	cachePath := ac.getCachePath(key)

	err := os.WriteFile(cachePath, audioData, 0644)
	if err != nil {
		slog.Error("Failed to write audio to cache", "path", cachePath, "error", err)
		return err
	}

	slog.Info("Cached synthesized audio", "voice_id", voiceID, "size", len(audioData))
	return nil
}

// GetOrGenerate gets cached audio or generates new audio and caches it
func (ac *AudioCache) GetOrGenerate(ctx context.Context, text, voiceID string, generator func() (io.ReadCloser, error)) ([]byte, error) {
	// Try to get from cache first
	if cachedData, found := ac.Get(ctx, text, voiceID); found {
		return cachedData, nil
	}

	// Generate new audio
	audioReader, err := generator()
	if err != nil {
		return nil, fmt.Errorf("failed to generate audio: %w", err)
	}
	defer audioReader.Close()

	// Read all data
	audioData, err := io.ReadAll(audioReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if err := ac.Set(ctx, text, voiceID, audioData); err != nil {
		slog.Warn("Failed to cache audio", "error", err)
	}

	return audioData, nil
}

// ClearCache drops every cached entry. Called when a persona's voice model
// changes so stale fallback audio is not replayed.
func (ac *AudioCache) ClearCache() error {
	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	if err := os.RemoveAll(ac.cacheDir); err != nil {
		return err
	}
	return os.MkdirAll(ac.cacheDir, 0755)
}

// GetCacheStats returns basic cache statistics
func (ac *AudioCache) GetCacheStats() (int, int64, error) {
	ac.mutex.RLock()
	defer ac.mutex.RUnlock()
	return ac.statsLocked()
}

func (ac *AudioCache) statsLocked() (int, int64, error) {
	entries, err := os.ReadDir(ac.cacheDir)
	if err != nil {
		return 0, 0, err
	}

	var totalSize int64
	fileCount := 0

	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".mp3" {
			fileCount++
			if info, err := entry.Info(); err == nil {
				totalSize += info.Size()
			}
		}
	}

	return fileCount, totalSize, nil
}
