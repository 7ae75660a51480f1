package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencraw/opencraw/pkg/bus"
)

// MessageTool lets the model push a message to a chat channel directly,
// outside the normal end-of-turn reply.
type MessageTool struct {
	bus            *bus.MessageBus
	defaultChannel string
	defaultChatID  string
}

func NewMessageTool(b *bus.MessageBus) *MessageTool {
	return &MessageTool{bus: b}
}

// SetContext points the tool at the conversation that triggered the
// current turn, so "channel"/"chat_id" can be omitted.
func (t *MessageTool) SetContext(channel, chatID string) {
	t.defaultChannel = channel
	t.defaultChatID = chatID
}

func (t *MessageTool) Name() string { return "message" }

func (t *MessageTool) Description() string {
	return "Send a message to the user immediately, before the turn finishes. Useful for progress updates during long tasks."
}

func (t *MessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Message text to send",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Optional: target channel name",
			},
			"chat_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional: target chat/user ID",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MessageTool) RiskLevel() RiskLevel { return RiskLow }

func (t *MessageTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return errorResult(ErrInvalidArguments, "content is empty")
	}

	channel, _ := args["channel"].(string)
	chatID, _ := args["chat_id"].(string)
	if channel == "" {
		channel = t.defaultChannel
	}
	if chatID == "" {
		chatID = t.defaultChatID
	}
	if channel == "" || chatID == "" {
		return errorResult(ErrInvalidArguments, "no target channel/chat for message")
	}

	t.bus.PublishOutbound(bus.OutboundMessage{
		Channel:     channel,
		RecipientID: chatID,
		Content:     content,
	})

	return &ToolResult{
		ForLLM: fmt.Sprintf("Message sent to %s:%s", channel, chatID),
		Silent: true,
	}
}
