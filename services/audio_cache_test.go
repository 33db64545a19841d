package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestAudioCache_SetAndGet(t *testing.T) {
	cache := NewAudioCache(t.TempDir())

	if _, found := cache.Get(context.Background(), "hello", "voice-1"); found {
		t.Fatal("expected miss on empty cache")
	}

	if err := cache.Set(context.Background(), "hello", "voice-1", []byte("mp3-bytes")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	data, found := cache.Get(context.Background(), "hello", "voice-1")
	if !found {
		t.Fatal("expected hit after set")
	}
	if !bytes.Equal(data, []byte("mp3-bytes")) {
		t.Errorf("unexpected cached data: %q", data)
	}

	// Same text under a different voice is a separate entry.
	if _, found := cache.Get(context.Background(), "hello", "voice-2"); found {
		t.Error("different voice should miss")
	}
}

func TestAudioCache_GetOrGenerate(t *testing.T) {
	cache := NewAudioCache(t.TempDir())

	calls := 0
	generator := func() (io.ReadCloser, error) {
		calls++
		return io.NopCloser(strings.NewReader("generated")), nil
	}

	data, err := cache.GetOrGenerate(context.Background(), "hello", "voice-1", generator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "generated" {
		t.Errorf("unexpected audio: %q", data)
	}

	// Second call is served from cache.
	data, err = cache.GetOrGenerate(context.Background(), "hello", "voice-1", generator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "generated" {
		t.Errorf("unexpected cached audio: %q", data)
	}
	if calls != 1 {
		t.Errorf("expected 1 generator call, got %d", calls)
	}
}

func TestAudioCache_GetOrGenerateFailure(t *testing.T) {
	cache := NewAudioCache(t.TempDir())

	genErr := errors.New("synthesis failed")
	_, err := cache.GetOrGenerate(context.Background(), "hello", "voice-1", func() (io.ReadCloser, error) {
		return nil, genErr
	})
	if !errors.Is(err, genErr) {
		t.Fatalf("expected generator error, got: %v", err)
	}

	if _, found := cache.Get(context.Background(), "hello", "voice-1"); found {
		t.Error("failed generation should not be cached")
	}
}

func TestAudioCache_ClearCache(t *testing.T) {
	cache := NewAudioCache(t.TempDir())

	cache.Set(context.Background(), "a", "voice-1", []byte("one"))
	cache.Set(context.Background(), "b", "voice-1", []byte("two"))

	if err := cache.ClearCache(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	count, size, err := cache.GetCacheStats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if count != 0 || size != 0 {
		t.Errorf("expected empty cache, got %d files / %d bytes", count, size)
	}
}

func TestPickDeterministicVoice(t *testing.T) {
	first := PickDeterministicVoice("Grandma Rose")
	second := PickDeterministicVoice("grandma rose  ")
	if first != second {
		t.Errorf("voice pick should ignore case and whitespace: %q vs %q", first, second)
	}

	known := false
	for _, v := range stockVoices {
		if v == first {
			known = true
		}
	}
	if !known {
		t.Errorf("picked voice %q is not in the stock pool", first)
	}
}
