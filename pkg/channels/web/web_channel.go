package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"vocalis/pkg/api"
	"vocalis/pkg/pipeline"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

type WebConfig struct {
	Port int `json:"port"` // Default: 8080
}

// IncomingMessage is the WS wire format for client input. Type "input"
// (or empty) carries a regular utterance; "interrupt" signals barge-in,
// with Heard holding the part of the response the client had played.
type IncomingMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Heard string `json:"heard,omitempty"`
}

// SafeConn serializes writes; gorilla/websocket allows one writer at a time.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

type WebChannel struct {
	config      WebConfig
	server      *http.Server
	connections map[string]*SafeConn // Map UserID -> WS Connection
	mu          sync.RWMutex
}

func NewWebChannel(cfg WebConfig) *WebChannel {
	return &WebChannel{
		config:      cfg,
		connections: make(map[string]*SafeConn),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})

	addr := fmt.Sprintf(":%d", c.config.Port)
	c.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("Web API listening", "port", c.config.Port)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Web API server error", "error", err)
		}
	}()

	return nil
}

func (c *WebChannel) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *WebChannel) conn(userID string) (*SafeConn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.connections[userID]
	return conn, ok
}

func (c *WebChannel) writeJSON(userID string, payload any) error {
	conn, ok := c.conn(userID)
	if !ok {
		return fmt.Errorf("web user %s not connected", userID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ws payload: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WebChannel) Send(session api.SessionContext, message string) error {
	return c.writeJSON(session.UserID, map[string]string{
		"type": "message",
		"text": message,
	})
}

// SendSignal implements the api.SignalingChannel interface
func (c *WebChannel) SendSignal(session api.SessionContext, signal string) error {
	return c.writeJSON(session.UserID, map[string]string{
		"type":  "signal",
		"value": signal,
	})
}

// Stream forwards a token stream to the client, one WS frame per token.
// Error tokens surface as "error" frames; a "done" frame closes the turn.
func (c *WebChannel) Stream(session api.SessionContext, tokens <-chan pipeline.Token) error {
	for tok := range tokens {
		var payload map[string]string
		if tok.Err != nil {
			payload = map[string]string{"type": "error", "text": tok.Err.Error()}
		} else {
			payload = map[string]string{"type": "token", "text": tok.Text}
		}
		if err := c.writeJSON(session.UserID, payload); err != nil {
			// Keep draining so the producer is never blocked.
			for range tokens {
			}
			return err
		}
	}

	return c.writeJSON(session.UserID, map[string]string{"type": "done"})
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}

	conn := &SafeConn{Conn: rawConn}

	userID := r.RemoteAddr

	// A stable session key lets a reconnecting client resume its
	// conversation; default is a shared session per browser profile.
	chatID := r.URL.Query().Get("session")
	if chatID == "" {
		chatID = "default"
	}
	username := r.URL.Query().Get("name")
	if username == "" {
		username = "WebUser"
	}

	c.mu.Lock()
	c.connections[userID] = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.connections, userID)
		c.mu.Unlock()
		conn.Close()
	}()

	session := api.SessionContext{
		ChannelID: "web",
		UserID:    userID,
		ChatID:    chatID,
		Username:  username,
	}

	slog.Info("Web client connected", "user", userID, "session", chatID)

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var incoming IncomingMessage
		if err := json.Unmarshal(msgBytes, &incoming); err != nil {
			// Fallback: treat as plain text (backward compatibility)
			incoming = IncomingMessage{Text: string(msgBytes)}
		}

		msg := &api.UnifiedMessage{
			Session: session,
			Content: incoming.Text,
		}
		if incoming.Type == "interrupt" {
			msg.Interrupt = true
			msg.Heard = incoming.Heard
		}

		ctx.OnMessage(c.ID(), msg)
	}

	slog.Info("Web client disconnected", "user", userID)
}
