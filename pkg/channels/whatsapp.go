package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/logger"
)

const whatsappAPIBase = "https://graph.facebook.com/v20.0"

// WhatsAppChannel is outbound-only: messages are delivered through the
// Cloud API, nothing is polled.
type WhatsAppChannel struct {
	*BaseChannel
	config     config.WhatsAppConfig
	httpClient *http.Client
	apiBase    string
}

func NewWhatsAppChannel(cfg config.WhatsAppConfig, b *bus.MessageBus) *WhatsAppChannel {
	return &WhatsAppChannel{
		BaseChannel: NewBaseChannel("whatsapp", b, nil),
		config:      cfg,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		apiBase:     whatsappAPIBase,
	}
}

func (c *WhatsAppChannel) SupportsReactions() bool { return false }

func (c *WhatsAppChannel) Start(ctx context.Context) error {
	if c.config.AccessToken == "" {
		return fmt.Errorf("whatsapp access_token not configured")
	}
	if c.config.PhoneNumberID == "" {
		return fmt.Errorf("whatsapp phone_number_id not configured")
	}
	c.setRunning(true)
	logger.InfoCF("whatsapp", "Outbound sender ready", map[string]interface{}{
		"phone_number_id": c.config.PhoneNumberID,
	})
	return nil
}

func (c *WhatsAppChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	return nil
}

func (c *WhatsAppChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("whatsapp channel not running")
	}

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                msg.RecipientID,
		"type":              "text",
		"text": map[string]interface{}{
			"body":        msg.Content,
			"preview_url": false,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.apiBase, c.config.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp send: status %d: %s", resp.StatusCode, string(data))
	}
	return nil
}
