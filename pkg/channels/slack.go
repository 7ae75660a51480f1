package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/logger"
	"github.com/opencraw/opencraw/pkg/utils"
)

const slackDefaultPollInterval = 5 * time.Second

// slackAPI is the slice of the Slack client the channel needs. Kept
// narrow so tests can stub it.
type slackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackChannel polls conversations.history for each configured channel.
// Slack timestamps are strings like "1726000000.000100"; after
// normalizing the fractional part to microseconds they order
// lexicographically, which is how the per-channel cursors compare.
type SlackChannel struct {
	*BaseChannel
	config  config.SlackConfig
	client  slackAPI
	botID   string
	cursors map[string]string
}

func NewSlackChannel(cfg config.SlackConfig, b *bus.MessageBus) *SlackChannel {
	return &SlackChannel{
		BaseChannel: NewBaseChannel("slack", b, []string(cfg.AllowFrom)),
		config:      cfg,
		cursors:     make(map[string]string),
	}
}

func (c *SlackChannel) SupportsReactions() bool { return false }

func (c *SlackChannel) Start(ctx context.Context) error {
	if c.config.BotToken == "" {
		return fmt.Errorf("slack bot_token not configured")
	}
	if len(c.config.Channels) == 0 {
		return fmt.Errorf("slack channels not configured")
	}

	if c.client == nil {
		c.client = slack.New(c.config.BotToken)
	}

	auth, err := c.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	c.botID = auth.UserID

	c.setRunning(true)
	logger.InfoCF("slack", "Polling channels", map[string]interface{}{
		"bot_id":   c.botID,
		"channels": strings.Join(c.config.Channels, ","),
	})

	go c.pollLoop(ctx)
	return nil
}

func (c *SlackChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	return nil
}

func (c *SlackChannel) pollLoop(ctx context.Context) {
	interval := time.Duration(c.config.PollIntervalSecs) * time.Second
	if interval <= 0 {
		interval = slackDefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.IsRunning() {
				return
			}
			for _, ch := range c.config.Channels {
				if err := c.pollChannel(ctx, ch); err != nil {
					logger.WarnCF("slack", "Poll failed", map[string]interface{}{
						"channel": ch,
						"error":   err.Error(),
					})
				}
			}
		}
	}
}

// pollChannel fetches recent history and emits anything newer than the
// cursor. The cursor only moves when a message is actually emitted, so
// suppressed rows are re-examined (and re-suppressed) next tick.
func (c *SlackChannel) pollChannel(ctx context.Context, channelID string) error {
	resp, err := c.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     50,
	})
	if err != nil {
		return err
	}

	msgs := resp.Messages

	// With start_from_latest the first poll only establishes the cursor:
	// record the newest timestamp seen and emit nothing, so the backlog
	// that predates startup never replays.
	if c.config.StartFromLatest {
		if _, ok := c.cursors[channelID]; !ok {
			seed := ""
			for _, m := range msgs {
				if ts := normalizeSlackTS(m.Timestamp); ts > seed {
					seed = ts
				}
			}
			c.cursors[channelID] = seed
			return nil
		}
	}

	// History arrives newest-first; walk oldest-first.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		ts := normalizeSlackTS(m.Timestamp)
		if cursor, ok := c.cursors[channelID]; ok && ts <= cursor {
			continue
		}
		if c.emit(channelID, m) {
			c.cursors[channelID] = ts
		}
	}
	return nil
}

// emit reports whether the message produced an inbound.
func (c *SlackChannel) emit(channelID string, m slack.Message) bool {
	if m.SubType != "" {
		return false
	}
	if m.User == "" || m.User == c.botID || m.BotID != "" {
		return false
	}
	content := strings.TrimSpace(m.Text)
	if content == "" {
		return false
	}
	if !c.IsAllowed(m.User) {
		return false
	}

	logger.DebugCF("slack", "Received message", map[string]interface{}{
		"channel": channelID,
		"user":    m.User,
		"preview": utils.Truncate(content, 50),
	})

	c.HandleMessage(m.Timestamp, m.User, channelID, true, content, map[string]string{
		"slack_channel": channelID,
	})
	return true
}

func (c *SlackChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("slack channel not running")
	}

	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if msg.ReplyToMessageID != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyToMessageID))
	}
	if _, _, err := c.client.PostMessageContext(ctx, msg.RecipientID, opts...); err != nil {
		return fmt.Errorf("slack post message: %w", err)
	}
	return nil
}

// normalizeSlackTS pads or truncates the fractional part of a Slack
// timestamp to exactly six digits so strings compare in time order.
func normalizeSlackTS(ts string) string {
	secs, frac, ok := strings.Cut(ts, ".")
	if !ok {
		frac = ""
	}
	if len(frac) > 6 {
		frac = frac[:6]
	}
	for len(frac) < 6 {
		frac += "0"
	}
	return secs + "." + frac
}
