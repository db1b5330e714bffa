package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	CallerID  string
	SessionID string

	// MessageHandler processes one inbound frame. It runs on the read loop
	// so frames for a session are handled in arrival order.
	MessageHandler func(*Client, []byte)
	// CloseHandler fires once when the read loop exits, whether the peer
	// left cleanly or the connection dropped.
	CloseHandler func(*Client)

	closeOnce sync.Once
}

// Message is the voice-session wire frame. Clients stream transcript turns;
// the server answers with acks, report status, and errors.
type Message struct {
	Type       string `json:"type"` // "turn", "leave", "ack", "report_status", "error"
	Seq        int    `json:"seq,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
	Text       string `json:"text,omitempty"`
	IsQuestion bool   `json:"is_question,omitempty"`

	QuestionsAsked int    `json:"questions_asked,omitempty"`
	QuestionsTotal int    `json:"questions_total,omitempty"`
	Status         string `json:"status,omitempty"`
	Error          string `json:"error,omitempty"`
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
			slog.Info("Client registered", "caller_id", client.CallerID, "session_id", client.SessionID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			slog.Info("Client unregistered", "caller_id", client.CallerID, "session_id", client.SessionID)
		}
	}
}

func (h *Hub) RegisterClient(conn *websocket.Conn, callerID, sessionID string) *Client {
	client := &Client{
		Hub:       h,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		CallerID:  callerID,
		SessionID: sessionID,
	}

	h.register <- client
	return client
}

// SendMessage marshals and queues a frame for the client. Frames are dropped
// when the send buffer is full rather than blocking the caller.
func (c *Client) SendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal message", "error", err, "type", msg.Type)
		return
	}
	select {
	case c.Send <- data:
	default:
		slog.Warn("Send buffer full, frame dropped", "session_id", c.SessionID, "type", msg.Type)
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.closeOnce.Do(func() {
			if c.CloseHandler != nil {
				c.CloseHandler(c)
			}
		})
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(64 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err, "session_id", c.SessionID)
			}
			break
		}

		if c.MessageHandler != nil {
			c.MessageHandler(c, messageBytes)
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
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Error("Failed to write message", "error", err, "session_id", c.SessionID)
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
