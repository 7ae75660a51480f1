package channels

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/logger"
)

type webchatFrame struct {
	Type     string `json:"type"`
	SenderID string `json:"sender_id,omitempty"`
	Content  string `json:"content,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
}

type webchatConn struct {
	ws *websocket.Conn
	mu sync.Mutex // serializes writes
}

func (c *webchatConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// WebchatChannel serves the built-in browser chat over WebSocket. Each
// connection gets a random sender id for its lifetime; there is no
// account system.
type WebchatChannel struct {
	*BaseChannel
	config   config.WebchatConfig
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*webchatConn // sender_id -> live conn
}

func NewWebchatChannel(cfg config.WebchatConfig, b *bus.MessageBus) *WebchatChannel {
	return &WebchatChannel{
		BaseChannel: NewBaseChannel("webchat", b, nil),
		config:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Local control surface; the HTTP listener itself is the boundary.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*webchatConn),
	}
}

func (c *WebchatChannel) SupportsReactions() bool { return true }

func (c *WebchatChannel) Start(ctx context.Context) error {
	c.setRunning(true)
	logger.InfoC("webchat", "Webchat channel ready")
	return nil
}

func (c *WebchatChannel) Stop(ctx context.Context) error {
	c.setRunning(false)

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, conn := range c.conns {
		_ = conn.ws.Close()
		delete(c.conns, id)
	}
	return nil
}

// Send delivers to the live connection for the recipient. A vanished
// connection is a silent drop: webchat identities die with their socket.
func (c *WebchatChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	conn, ok := c.conns[msg.RecipientID]
	c.mu.Unlock()
	if !ok {
		logger.DebugCF("webchat", "Dropping message for gone connection",
			map[string]interface{}{"recipient": msg.RecipientID})
		return nil
	}

	return conn.writeJSON(webchatFrame{Type: "message", Content: msg.Content})
}

// ServeWS is mounted on the gateway HTTP listener.
func (c *WebchatChannel) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("webchat", "WebSocket upgrade failed",
			map[string]interface{}{"error": err.Error()})
		return
	}

	senderID := newWebchatSenderID()
	conn := &webchatConn{ws: ws}

	c.mu.Lock()
	c.conns[senderID] = conn
	c.mu.Unlock()

	logger.InfoCF("webchat", "Client connected",
		map[string]interface{}{"sender_id": senderID})

	if err := conn.writeJSON(webchatFrame{Type: "hello", SenderID: senderID}); err != nil {
		c.dropConn(senderID)
		return
	}

	go c.readLoop(senderID, conn)
}

func (c *WebchatChannel) readLoop(senderID string, conn *webchatConn) {
	defer c.dropConn(senderID)

	seq := 0
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			logger.DebugCF("webchat", "Client disconnected",
				map[string]interface{}{"sender_id": senderID})
			return
		}

		var frame webchatFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			// Not JSON at all; treat the raw bytes as a message.
			frame = webchatFrame{Type: "message", Content: string(data)}
		}

		seq++
		messageID := fmt.Sprintf("%s-%d", senderID, seq)

		switch frame.Type {
		case "reaction":
			c.HandleReaction(messageID, senderID, frame.Emoji)
		default:
			// Unknown frame types degrade to plain messages.
			content := frame.Content
			if content == "" {
				continue
			}
			c.HandleMessage(messageID, senderID, "", false, content, map[string]string{
				"raw_frame": string(data),
			})
		}
	}
}

func (c *WebchatChannel) dropConn(senderID string) {
	c.mu.Lock()
	if conn, ok := c.conns[senderID]; ok {
		_ = conn.ws.Close()
		delete(c.conns, senderID)
	}
	c.mu.Unlock()
}

func newWebchatSenderID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "anon"
	}
	return hex.EncodeToString(b[:])
}
