package channels

import (
	"context"
	"fmt"
	"sort"

	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/logger"
)

// Manager owns the set of enabled channel adapters and the outbound
// dispatcher that routes bus replies back to them.
type Manager struct {
	bus      *bus.MessageBus
	channels map[string]Channel
	webchat  *WebchatChannel
}

// NewManager constructs adapters for every channel enabled in cfg.
// Construction failures (bad tokens, unparseable config) surface here;
// transport failures surface from Start.
func NewManager(cfg *config.Config, b *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		bus:      b,
		channels: make(map[string]Channel),
	}

	if cfg.Channels.Webchat.Enabled {
		m.webchat = NewWebchatChannel(cfg.Channels.Webchat, b)
		m.channels["webchat"] = m.webchat
	}
	if cfg.Channels.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Channels.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		m.channels["telegram"] = ch
	}
	if cfg.Channels.Discord.Enabled {
		m.channels["discord"] = NewDiscordChannel(cfg.Channels.Discord, b)
	}
	if cfg.Channels.IMessage.Enabled {
		m.channels["imessage"] = NewIMessageChannel(cfg.Channels.IMessage, b)
	}
	if cfg.Channels.Slack.Enabled {
		m.channels["slack"] = NewSlackChannel(cfg.Channels.Slack, b)
	}
	if cfg.Channels.WhatsApp.Enabled {
		m.channels["whatsapp"] = NewWhatsAppChannel(cfg.Channels.WhatsApp, b)
	}

	return m, nil
}

// StartAll starts every adapter and fails fast on the first error, so a
// misconfigured credential stops the process rather than limping along.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, name := range m.Names() {
		ch := m.channels[name]
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
		logger.InfoCF("channels", "Channel started",
			map[string]interface{}{"channel": name})
	}
	go m.dispatchOutbound(ctx)
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("channels", "Channel stop failed", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
}

// dispatchOutbound delivers replies fire-and-forget; a failed send is
// logged and dropped, never retried.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		ch, exists := m.channels[msg.Channel]
		if !exists {
			logger.WarnCF("channels", "Outbound for unknown channel",
				map[string]interface{}{"channel": msg.Channel})
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Send failed", map[string]interface{}{
				"channel":   msg.Channel,
				"recipient": msg.RecipientID,
				"error":     err.Error(),
			})
		}
	}
}

// Get returns a configured adapter by name.
func (m *Manager) Get(name string) (Channel, bool) {
	ch, ok := m.channels[name]
	return ch, ok
}

// Names lists configured channels in stable order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Statuses reports each configured channel's running state.
func (m *Manager) Statuses() map[string]bool {
	out := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		out[name] = ch.IsRunning()
	}
	return out
}

// Webchat returns the webchat adapter for HTTP mounting, or nil when the
// channel is disabled.
func (m *Manager) Webchat() *WebchatChannel {
	return m.webchat
}
