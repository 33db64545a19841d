package services

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// VoiceSessionIdleTimeout is how long a session may sit without audio or
	// text before the sweeper closes it.
	VoiceSessionIdleTimeout = 5 * time.Minute

	sessionSweepInterval = 30 * time.Second
)

// VoiceSession tracks one live websocket voice conversation.
type VoiceSession struct {
	ID             string
	UserID         string
	ConversationID string
	LastActivity   time.Time
	EmptyTurns     int
	CloseFunc      func() // closes the underlying connection on expiry

	chunksMu    sync.Mutex
	audioChunks map[int][]byte
	totalChunks int
}

// VoiceSessionService keeps the set of active realtime sessions and reaps the
// ones that go idle.
type VoiceSessionService struct {
	mu       sync.RWMutex
	sessions map[string]*VoiceSession
}

func NewVoiceSessionService() *VoiceSessionService {
	s := &VoiceSessionService{
		sessions: make(map[string]*VoiceSession),
	}

	go s.startIdleSweeper()

	return s
}

func (s *VoiceSessionService) Register(sessionID, userID, conversationID string, closeFunc func()) *VoiceSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &VoiceSession{
		ID:             sessionID,
		UserID:         userID,
		ConversationID: conversationID,
		LastActivity:   time.Now(),
		CloseFunc:      closeFunc,
		audioChunks:    make(map[int][]byte),
	}
	s.sessions[sessionID] = session

	slog.Info("Voice session registered", "session_id", sessionID, "user_id", userID, "conversation_id", conversationID)
	return session
}

func (s *VoiceSessionService) Touch(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, exists := s.sessions[sessionID]; exists {
		session.LastActivity = time.Now()
	}
}

func (s *VoiceSessionService) End(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; exists {
		delete(s.sessions, sessionID)
		slog.Info("Voice session ended", "session_id", sessionID)
	}
}

// IncrementEmptyTurn bumps the counter of consecutive silent or
// unintelligible turns and returns the new count.
func (s *VoiceSessionService) IncrementEmptyTurn(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, exists := s.sessions[sessionID]; exists {
		session.EmptyTurns++
		return session.EmptyTurns
	}
	return 0
}

func (s *VoiceSessionService) ResetEmptyTurns(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, exists := s.sessions[sessionID]; exists {
		session.EmptyTurns = 0
	}
}

// AddAudioChunk stores one piece of a chunked audio upload.
func (s *VoiceSessionService) AddAudioChunk(sessionID string, chunkData []byte, chunkIndex, totalChunks int) {
	s.mu.RLock()
	session, exists := s.sessions[sessionID]
	s.mu.RUnlock()
	if !exists {
		return
	}

	session.chunksMu.Lock()
	defer session.chunksMu.Unlock()

	session.audioChunks[chunkIndex] = append([]byte(nil), chunkData...)
	session.totalChunks = totalChunks
}

// ReassembleAudio joins the stored chunks in order and clears the buffer.
func (s *VoiceSessionService) ReassembleAudio(sessionID string) ([]byte, error) {
	s.mu.RLock()
	session, exists := s.sessions[sessionID]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}

	session.chunksMu.Lock()
	defer session.chunksMu.Unlock()

	// The buffer is cleared on failure too, so a broken upload cannot bleed
	// into the next turn.
	defer func() {
		session.audioChunks = make(map[int][]byte)
		session.totalChunks = 0
	}()

	if len(session.audioChunks) != session.totalChunks {
		return nil, fmt.Errorf("incomplete chunks: have %d, expected %d", len(session.audioChunks), session.totalChunks)
	}

	totalSize := 0
	for i := 0; i < session.totalChunks; i++ {
		chunk, ok := session.audioChunks[i]
		if !ok {
			return nil, fmt.Errorf("missing chunk %d", i)
		}
		totalSize += len(chunk)
	}

	audio := make([]byte, 0, totalSize)
	for i := 0; i < session.totalChunks; i++ {
		audio = append(audio, session.audioChunks[i]...)
	}

	return audio, nil
}

func (s *VoiceSessionService) startIdleSweeper() {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.sweepIdle()
	}
}

func (s *VoiceSessionService) sweepIdle() {
	now := time.Now()

	s.mu.RLock()
	var expired []*VoiceSession
	for _, session := range s.sessions {
		if now.Sub(session.LastActivity) > VoiceSessionIdleTimeout {
			expired = append(expired, session)
		}
	}
	s.mu.RUnlock()

	for _, session := range expired {
		slog.Info("Voice session idle, closing",
			"session_id", session.ID,
			"inactive_duration", now.Sub(session.LastActivity))

		if session.CloseFunc != nil {
			session.CloseFunc()
		}
		s.End(session.ID)
	}
}
