package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/opencraw/opencraw/pkg/agent"
	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/channels"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/logger"
	"github.com/opencraw/opencraw/pkg/security"
	"github.com/opencraw/opencraw/pkg/utils"
)

// Gateway is the fan-in consumer: it drains the inbound queue and turns
// each event into a session turn, routing the reply back out.
type Gateway struct {
	bus       *bus.MessageBus
	cfg       *config.Config
	gate      *security.Gate
	loop      *agent.Loop
	channels  *channels.Manager
	startedAt time.Time
}

func New(cfg *config.Config, b *bus.MessageBus, gate *security.Gate, loop *agent.Loop, mgr *channels.Manager) *Gateway {
	return &Gateway{
		bus:       b,
		cfg:       cfg,
		gate:      gate,
		loop:      loop,
		channels:  mgr,
		startedAt: time.Now(),
	}
}

func (g *Gateway) Loop() *agent.Loop           { return g.loop }
func (g *Gateway) Uptime() time.Duration       { return time.Since(g.startedAt) }
func (g *Gateway) Channels() *channels.Manager { return g.channels }

// Run consumes the inbound queue until ctx is cancelled. Messages are
// processed one at a time; ordering across the whole gateway is the
// bus's arrival order.
func (g *Gateway) Run(ctx context.Context) {
	logger.InfoCF("gateway", "Dispatcher running", nil)
	for {
		msg, ok := g.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		g.handle(ctx, msg)
	}
}

func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	if msg.Kind == bus.KindReaction {
		// Reactions are feedback only; they never start a turn.
		logger.InfoCF("gateway", "Reaction received", map[string]interface{}{
			"channel":    msg.Channel,
			"sender_id":  msg.SenderID,
			"message_id": msg.MessageID,
			"emoji":      msg.Content,
		})
		return
	}

	if !g.gate.AllowSender(msg.Channel, msg.SenderID) {
		logger.WarnCF("gateway", "Sender rejected", map[string]interface{}{
			"channel":   msg.Channel,
			"sender_id": msg.SenderID,
		})
		return
	}

	g.loop.Sessions().GetOrCreate(msg.Channel, msg.SenderID)

	recipient := msg.ThreadID
	if recipient == "" {
		recipient = msg.SenderID
	}

	if strings.HasPrefix(strings.TrimSpace(msg.Content), "/") {
		if reply, handled := g.loop.HandleCommand(msg, g.statusInfo(msg)); handled {
			g.reply(msg, recipient, reply)
			return
		}
	}

	reply, err := g.loop.RunTurn(ctx, msg)
	if err != nil {
		logger.ErrorCF("gateway", "Turn failed", map[string]interface{}{
			"channel":   msg.Channel,
			"sender_id": msg.SenderID,
			"error":     err.Error(),
		})
		g.reply(msg, recipient, "Something went wrong processing that message. Please try again.")
		return
	}
	if reply == "" {
		return
	}

	logger.DebugCF("gateway", "Replying", map[string]interface{}{
		"channel":   msg.Channel,
		"recipient": recipient,
		"preview":   utils.Truncate(reply, 80),
	})
	g.reply(msg, recipient, reply)
}

func (g *Gateway) reply(msg bus.InboundMessage, recipient, content string) {
	g.bus.PublishOutbound(bus.OutboundMessage{
		Channel:          msg.Channel,
		RecipientID:      recipient,
		Content:          content,
		ReplyToMessageID: msg.MessageID,
	})
}

func (g *Gateway) statusInfo(msg bus.InboundMessage) agent.StatusInfo {
	info := agent.StatusInfo{
		Model:    g.cfg.Agents.Defaults.Model,
		Uptime:   time.Since(g.startedAt),
		QueueLen: g.bus.InboundLen(),
	}
	if g.channels != nil {
		info.Channels = g.channels.Names()
	} else {
		info.Channels = g.cfg.EnabledChannels()
	}
	return info
}
