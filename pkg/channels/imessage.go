package channels

import (
	"context"
	"database/sql"
	"fmt"
	"os/exec"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/logger"
	"github.com/opencraw/opencraw/pkg/utils"
)

const imessageDefaultPollInterval = 3 * time.Second

// IMessageChannel tails a local copy of the Messages SQLite store. The
// database is only ever read; replies go out through AppleScript.
type IMessageChannel struct {
	*BaseChannel
	config config.IMessageConfig
	db     *sql.DB
	cursor int64
}

func NewIMessageChannel(cfg config.IMessageConfig, b *bus.MessageBus) *IMessageChannel {
	return &IMessageChannel{
		BaseChannel: NewBaseChannel("imessage", b, []string(cfg.AllowFrom)),
		config:      cfg,
	}
}

func (c *IMessageChannel) SupportsReactions() bool { return false }

func (c *IMessageChannel) Start(ctx context.Context) error {
	if c.config.SourceDB == "" {
		return fmt.Errorf("imessage source_db not configured")
	}

	dsn := fmt.Sprintf("file:%s?mode=ro", c.config.SourceDB)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open imessage db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping imessage db: %w", err)
	}
	c.db = db

	if c.config.StartFromLatest {
		if err := c.seedCursor(ctx); err != nil {
			db.Close()
			return fmt.Errorf("seed imessage cursor: %w", err)
		}
	}

	c.setRunning(true)
	logger.InfoCF("imessage", "Watching message store", map[string]interface{}{
		"db":     c.config.SourceDB,
		"cursor": c.cursor,
	})

	go c.pollLoop(ctx)
	return nil
}

func (c *IMessageChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// seedCursor positions the cursor at the newest row so only messages
// arriving after startup are processed.
func (c *IMessageChannel) seedCursor(ctx context.Context) error {
	row := c.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(ROWID), 0) FROM message`)
	return row.Scan(&c.cursor)
}

func (c *IMessageChannel) pollLoop(ctx context.Context) {
	interval := time.Duration(c.config.PollIntervalSecs) * time.Second
	if interval <= 0 {
		interval = imessageDefaultPollInterval
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
			if err := c.pollOnce(ctx); err != nil {
				logger.WarnCF("imessage", "Poll failed",
					map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

const imessageQuery = `
SELECT m.ROWID, COALESCE(m.text, ''), COALESCE(h.id, ''),
       COALESCE(ch.chat_identifier, ''), COALESCE(ch.style, 0)
FROM message m
LEFT JOIN handle h ON m.handle_id = h.ROWID
LEFT JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
LEFT JOIN chat ch ON ch.ROWID = cmj.chat_id
WHERE m.ROWID > ? AND m.is_from_me = 0
ORDER BY m.ROWID ASC`

// pollOnce emits rows strictly newer than the cursor.
func (c *IMessageChannel) pollOnce(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, imessageQuery, c.cursor)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rowID     int64
			text      string
			handleID  string
			chatIdent string
			chatStyle int
		)
		if err := rows.Scan(&rowID, &text, &handleID, &chatIdent, &chatStyle); err != nil {
			return err
		}
		c.cursor = rowID

		content := strings.TrimSpace(text)
		if content == "" || handleID == "" {
			continue
		}
		if !c.IsAllowed(handleID) {
			continue
		}

		// Style 43 is a group chat in the Messages schema.
		isGroup := chatStyle == 43
		if isGroup {
			matched := false
			for _, prefix := range c.config.GroupTriggerPrefix {
				if strings.HasPrefix(content, prefix) {
					content = strings.TrimSpace(strings.TrimPrefix(content, prefix))
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}

		threadID := handleID
		if isGroup && chatIdent != "" {
			threadID = chatIdent
		}

		logger.DebugCF("imessage", "Received message", map[string]interface{}{
			"row_id":  rowID,
			"sender":  handleID,
			"preview": utils.Truncate(content, 50),
		})

		c.HandleMessage(fmt.Sprintf("%d", rowID), handleID, threadID, isGroup, content, map[string]string{
			"chat_identifier": chatIdent,
		})
	}
	return rows.Err()
}

// Send shells out to Messages.app via osascript. Only works where the
// mirror itself lives.
func (c *IMessageChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("imessage channel not running")
	}

	script := fmt.Sprintf(
		`tell application "Messages" to send %q to buddy %q of (service 1 whose service type is iMessage)`,
		msg.Content, msg.RecipientID)

	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript send: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
