package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

type Client struct {
	Hub            *Hub
	Conn           *websocket.Conn
	Send           chan []byte
	UserID         string
	ConversationID string
	SessionID      string
	MessageHandler func(*Client, []byte) // Function to handle incoming messages
	CloseHandler   func(*Client)         // Called once when the read pump exits
}

type Message struct {
	Type            string `json:"type"` // "text", "audio", "audio_chunk", "user_message", "end_session", "error"
	Content         string `json:"content,omitempty"`
	AudioDataBase64 string `json:"audio_data_base64,omitempty"` // Base64 encoded audio
	ChunkIndex      int    `json:"chunk_index,omitempty"`       // For audio chunks
	TotalChunks     int    `json:"total_chunks,omitempty"`      // For audio chunks
	IsLastChunk     bool   `json:"is_last_chunk,omitempty"`     // For audio chunks
	SessionID       string `json:"session_id,omitempty"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			slog.Info("Client registered", "user_id", client.UserID, "session_id", client.SessionID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			slog.Info("Client unregistered", "user_id", client.UserID, "session_id", client.SessionID)
		}
	}
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID, conversationID string) *Client {
	client := &Client{
		Hub:            h,
		Conn:           conn,
		Send:           make(chan []byte, 256),
		UserID:         userID,
		ConversationID: conversationID,
		SessionID:      uuid.New().String(),
		MessageHandler: nil, // Set by the server once the processor is attached
	}

	h.register <- client
	return client
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
		if c.CloseHandler != nil {
			c.CloseHandler(c)
		}
	}()

	c.Conn.SetReadLimit(10 * 1024 * 1024) // 10MB limit for large audio recordings
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			break
		}

		if c.MessageHandler != nil {
			// Frames must be handled in arrival order: chunked audio uploads
			// depend on every earlier chunk being buffered before the last
			// one triggers reassembly. Handlers spawn their own goroutines
			// for slow work.
			c.MessageHandler(c, messageBytes)
		} else {
			slog.Warn("No message handler attached, dropping message", "session_id", c.SessionID)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON marshals and queues a message, dropping it if the client's send
// buffer is full.
func (c *Client) SendJSON(msg Message) {
	msg.SessionID = c.SessionID
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal message", "error", err, "type", msg.Type)
		return
	}

	select {
	case c.Send <- b:
	default:
		slog.Warn("Client send buffer full, dropping message", "session_id", c.SessionID, "type", msg.Type)
	}
}
