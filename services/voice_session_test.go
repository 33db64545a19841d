package services

import (
	"bytes"
	"testing"
	"time"
)

func TestVoiceSessionService_RegisterAndEnd(t *testing.T) {
	svc := NewVoiceSessionService()

	session := svc.Register("s1", "user-1", "conv-1", nil)
	if session.ID != "s1" || session.UserID != "user-1" || session.ConversationID != "conv-1" {
		t.Errorf("session fields not set: %+v", session)
	}

	svc.End("s1")
	if got := svc.IncrementEmptyTurn("s1"); got != 0 {
		t.Errorf("ended session should not count turns, got %d", got)
	}
}

func TestVoiceSessionService_EmptyTurnCounting(t *testing.T) {
	svc := NewVoiceSessionService()
	svc.Register("s1", "user-1", "conv-1", nil)

	if got := svc.IncrementEmptyTurn("s1"); got != 1 {
		t.Errorf("expected 1 empty turn, got %d", got)
	}
	if got := svc.IncrementEmptyTurn("s1"); got != 2 {
		t.Errorf("expected 2 empty turns, got %d", got)
	}

	svc.ResetEmptyTurns("s1")
	if got := svc.IncrementEmptyTurn("s1"); got != 1 {
		t.Errorf("expected counter reset, got %d", got)
	}
}

func TestVoiceSessionService_ChunkReassembly(t *testing.T) {
	svc := NewVoiceSessionService()
	svc.Register("s1", "user-1", "conv-1", nil)

	// Out-of-order arrival.
	svc.AddAudioChunk("s1", []byte("world"), 1, 2)
	svc.AddAudioChunk("s1", []byte("hello "), 0, 2)

	audio, err := svc.ReassembleAudio("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(audio, []byte("hello world")) {
		t.Errorf("expected chunks joined in index order, got %q", audio)
	}

	// Buffer is cleared after reassembly.
	if _, err := svc.ReassembleAudio("s1"); err != nil {
		t.Fatalf("empty buffer reassembly should succeed: %v", err)
	}
}

func TestVoiceSessionService_ReassembleIncomplete(t *testing.T) {
	svc := NewVoiceSessionService()
	svc.Register("s1", "user-1", "conv-1", nil)

	svc.AddAudioChunk("s1", []byte("part"), 0, 3)

	if _, err := svc.ReassembleAudio("s1"); err == nil {
		t.Fatal("expected error for incomplete chunk set")
	}
}

func TestVoiceSessionService_FailedReassemblyClearsBuffer(t *testing.T) {
	svc := NewVoiceSessionService()
	svc.Register("s1", "user-1", "conv-1", nil)

	svc.AddAudioChunk("s1", []byte("orphan"), 1, 2)
	if _, err := svc.ReassembleAudio("s1"); err == nil {
		t.Fatal("expected error for incomplete chunk set")
	}

	// The stale chunk must not bleed into the next upload.
	svc.AddAudioChunk("s1", []byte("fresh "), 0, 2)
	svc.AddAudioChunk("s1", []byte("start"), 1, 2)

	audio, err := svc.ReassembleAudio("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(audio, []byte("fresh start")) {
		t.Errorf("expected only the new upload, got %q", audio)
	}
}

func TestVoiceSessionService_ReassembleUnknownSession(t *testing.T) {
	svc := NewVoiceSessionService()

	if _, err := svc.ReassembleAudio("missing"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestVoiceSessionService_SweepClosesIdleSessions(t *testing.T) {
	svc := NewVoiceSessionService()

	closed := false
	session := svc.Register("s1", "user-1", "conv-1", func() { closed = true })
	session.LastActivity = time.Now().Add(-VoiceSessionIdleTimeout - time.Minute)

	svc.Register("s2", "user-1", "conv-2", func() { t.Error("fresh session should not be closed") })

	svc.sweepIdle()

	if !closed {
		t.Error("expected idle session close func to run")
	}
	if got := svc.IncrementEmptyTurn("s1"); got != 0 {
		t.Error("idle session should be removed")
	}
	if got := svc.IncrementEmptyTurn("s2"); got != 1 {
		t.Error("fresh session should remain registered")
	}
}

func TestVoiceSessionService_TouchDefersSweep(t *testing.T) {
	svc := NewVoiceSessionService()

	session := svc.Register("s1", "user-1", "conv-1", func() { t.Error("touched session should not be closed") })
	session.LastActivity = time.Now().Add(-VoiceSessionIdleTimeout - time.Minute)

	svc.Touch("s1")
	svc.sweepIdle()

	if got := svc.IncrementEmptyTurn("s1"); got != 1 {
		t.Error("touched session should remain registered")
	}
}
