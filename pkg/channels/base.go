package channels

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/logger"
)

// Channel is one chat platform adapter. Start returns once the adapter is
// receiving; delivery happens on the message bus.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	SupportsReactions() bool
	IsRunning() bool
}

// BaseChannel carries what every adapter needs: its name, the bus, the
// per-channel allowlist and a running flag.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom []string
	running   atomic.Bool
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       b,
		allowFrom: allowFrom,
	}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) setRunning(v bool) { c.running.Store(v) }

func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// IsAllowed applies the adapter-level allowlist. An empty list admits
// everyone at this layer; the security gate still applies downstream.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	for _, allowed := range c.allowFrom {
		if allowed == senderID {
			return true
		}
	}
	return false
}

// HandleMessage publishes one inbound user message onto the bus. Blocks
// when the queue is full, which is the designed back-pressure.
func (c *BaseChannel) HandleMessage(messageID, senderID, threadID string, isGroup bool, content string, metadata map[string]string) {
	c.bus.PublishInbound(bus.InboundMessage{
		Kind:       bus.KindMessage,
		MessageID:  messageID,
		Channel:    c.name,
		SenderID:   senderID,
		ThreadID:   threadID,
		IsGroup:    isGroup,
		Content:    content,
		Metadata:   metadata,
		ReceivedAt: time.Now().UTC(),
	})
}

// HandleReaction publishes a reaction event. Reactions never start a
// model turn; downstream records them as feedback.
func (c *BaseChannel) HandleReaction(messageID, senderID, emoji string) {
	logger.DebugCF(c.name, "Received reaction",
		map[string]interface{}{"sender_id": senderID, "emoji": emoji})
	c.bus.PublishInbound(bus.InboundMessage{
		Kind:       bus.KindReaction,
		MessageID:  messageID,
		Channel:    c.name,
		SenderID:   senderID,
		Content:    emoji,
		ReceivedAt: time.Now().UTC(),
	})
}
