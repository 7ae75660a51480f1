package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/logger"
	"github.com/opencraw/opencraw/pkg/utils"
)

const (
	discordGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	discordAPIBase    = "https://discord.com/api/v10"

	// GUILDS | GUILD_MESSAGES | DIRECT_MESSAGES | MESSAGE_CONTENT
	discordIntents = 1 | (1 << 9) | (1 << 12) | (1 << 15)

	discordReconnectMin = 5 * time.Second
	discordReconnectMax = 60 * time.Second
)

// Gateway opcodes.
const (
	discordOpDispatch     = 0
	discordOpHeartbeat    = 1
	discordOpIdentify     = 2
	discordOpHello        = 10
	discordOpHeartbeatAck = 11
)

type discordPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type discordHello struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type discordReady struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
}

type discordMessageCreate struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Content   string `json:"content"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
}

// DiscordChannel speaks the Discord gateway protocol directly: Identify,
// heartbeats at the HELLO-advertised interval, sequence tracking, and
// reconnection with backoff.
type DiscordChannel struct {
	*BaseChannel
	config     config.DiscordConfig
	httpClient *http.Client

	lastSeq   atomic.Int64
	botUserID atomic.Value // string
}

func NewDiscordChannel(cfg config.DiscordConfig, b *bus.MessageBus) *DiscordChannel {
	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", b, []string(cfg.AllowFrom)),
		config:      cfg,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *DiscordChannel) SupportsReactions() bool { return false }

func (c *DiscordChannel) Start(ctx context.Context) error {
	if c.config.Token == "" {
		return fmt.Errorf("discord token not configured")
	}
	c.setRunning(true)
	go c.connectLoop(ctx)
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	return nil
}

func (c *DiscordChannel) connectLoop(ctx context.Context) {
	backoff := discordReconnectMin

	for c.IsRunning() {
		if ctx.Err() != nil {
			return
		}

		err := c.runSession(ctx)
		if !c.IsRunning() || ctx.Err() != nil {
			return
		}

		logger.WarnCF("discord", "Gateway session ended, reconnecting",
			map[string]interface{}{"error": errString(err), "backoff": backoff.String()})

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > discordReconnectMax {
			backoff = discordReconnectMax
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "connection closed"
	}
	return err.Error()
}

// runSession handles one gateway connection from dial to disconnect.
func (c *DiscordChannel) runSession(ctx context.Context) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, discordGatewayURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer ws.Close()

	// First frame must be HELLO with the heartbeat interval.
	var hello discordPayload
	if err := ws.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != discordOpHello {
		return fmt.Errorf("expected HELLO opcode, got %d", hello.Op)
	}
	var helloData discordHello
	if err := json.Unmarshal(hello.D, &helloData); err != nil {
		return fmt.Errorf("parse hello: %w", err)
	}
	interval := time.Duration(helloData.HeartbeatInterval) * time.Millisecond

	identify := map[string]interface{}{
		"op": discordOpIdentify,
		"d": map[string]interface{}{
			"token":   c.config.Token,
			"intents": discordIntents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "opencraw",
				"device":  "opencraw",
			},
		},
	}
	if err := ws.WriteJSON(identify); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}

	logger.InfoCF("discord", "Gateway connected",
		map[string]interface{}{"heartbeat_interval": interval.String()})

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.heartbeatLoop(sessionCtx, ws, interval)

	for {
		var payload discordPayload
		if err := ws.ReadJSON(&payload); err != nil {
			return err
		}
		if payload.S != nil {
			c.lastSeq.Store(*payload.S)
		}

		switch payload.Op {
		case discordOpDispatch:
			c.handleDispatch(payload)
		case discordOpHeartbeat:
			// The gateway may request an immediate beat.
			seq := c.lastSeq.Load()
			_ = ws.WriteJSON(discordPayload{Op: discordOpHeartbeat, S: &seq})
		case discordOpHeartbeatAck:
			// Expected; nothing to do.
		}
	}
}

// heartbeatLoop sends the last seen sequence number at the advertised
// interval for the life of the connection.
func (c *DiscordChannel) heartbeatLoop(ctx context.Context, ws *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq := c.lastSeq.Load()
			if err := ws.WriteJSON(discordPayload{Op: discordOpHeartbeat, S: &seq}); err != nil {
				logger.DebugCF("discord", "Heartbeat write failed",
					map[string]interface{}{"error": err.Error()})
				return
			}
		}
	}
}

func (c *DiscordChannel) handleDispatch(payload discordPayload) {
	switch payload.T {
	case "READY":
		var ready discordReady
		if err := json.Unmarshal(payload.D, &ready); err == nil {
			c.botUserID.Store(ready.User.ID)
			logger.InfoCF("discord", "Bot identified",
				map[string]interface{}{"bot_user_id": ready.User.ID})
		}
	case "MESSAGE_CREATE":
		var msg discordMessageCreate
		if err := json.Unmarshal(payload.D, &msg); err != nil {
			logger.WarnCF("discord", "Unparseable MESSAGE_CREATE",
				map[string]interface{}{"error": err.Error()})
			return
		}
		c.handleMessageCreate(msg, payload.D)
	}
}

func (c *DiscordChannel) handleMessageCreate(msg discordMessageCreate, raw json.RawMessage) {
	if msg.Author.Bot {
		return
	}
	if !c.IsAllowed(msg.Author.ID) {
		logger.DebugCF("discord", "Message rejected by allowlist",
			map[string]interface{}{"author": msg.Author.ID})
		return
	}

	content := msg.Content
	isGuild := msg.GuildID != ""
	if isGuild {
		botID, _ := c.botUserID.Load().(string)
		if botID == "" {
			return
		}
		mention := "<@" + botID + ">"
		nickMention := "<@!" + botID + ">"
		if !strings.Contains(content, mention) && !strings.Contains(content, nickMention) {
			return
		}
		content = strings.ReplaceAll(content, mention, "")
		content = strings.TrimSpace(strings.ReplaceAll(content, nickMention, ""))
	}
	if content == "" {
		return
	}

	logger.DebugCF("discord", "Received message", map[string]interface{}{
		"author":  msg.Author.ID,
		"guild":   msg.GuildID,
		"preview": utils.Truncate(content, 50),
	})

	c.HandleMessage(msg.ID, msg.Author.ID, msg.ChannelID, isGuild, content, map[string]string{
		"username":  msg.Author.Username,
		"raw_event": string(raw),
	})
}

// Send posts to the channel REST endpoint.
func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord channel not running")
	}

	body, err := json.Marshal(map[string]string{"content": msg.Content})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/channels/%s/messages", discordAPIBase, msg.RecipientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.config.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("discord send: status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
