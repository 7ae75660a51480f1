package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/opencraw/opencraw/pkg/bus"
)

// SendFileTool delivers workspace files to the user through their chat
// channel, riding the outbound Media field.
type SendFileTool struct {
	bus            *bus.MessageBus
	workspace      string
	defaultChannel string
	defaultChatID  string
}

func NewSendFileTool(b *bus.MessageBus, workspace string) *SendFileTool {
	return &SendFileTool{bus: b, workspace: workspace}
}

func (t *SendFileTool) SetContext(channel, chatID string) {
	t.defaultChannel = channel
	t.defaultChatID = chatID
}

func (t *SendFileTool) Name() string { return "send_file" }

func (t *SendFileTool) Description() string {
	return "Send one or more workspace files (images, documents, etc.) to the user via their chat channel."
}

func (t *SendFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"files": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Workspace-relative paths of files to send",
			},
			"caption": map[string]interface{}{
				"type":        "string",
				"description": "Optional caption to accompany the files",
			},
		},
		"required": []string{"files"},
	}
}

func (t *SendFileTool) RiskLevel() RiskLevel { return RiskMedium }

func (t *SendFileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	rawFiles, ok := args["files"].([]interface{})
	if !ok || len(rawFiles) == 0 {
		return errorResult(ErrInvalidArguments, "files must be a non-empty array")
	}
	caption, _ := args["caption"].(string)

	if t.defaultChannel == "" || t.defaultChatID == "" {
		return errorResult(ErrInvalidArguments, "no target channel/chat for files")
	}

	var paths []string
	for _, raw := range rawFiles {
		rel, ok := raw.(string)
		if !ok {
			return errorResult(ErrInvalidArguments, "files entries must be strings")
		}
		abs, err := resolveSandboxed(t.workspace, rel)
		if err != nil {
			return &ToolResult{ForLLM: err.Error(), IsError: true, Err: err}
		}
		info, err := os.Stat(abs)
		if err != nil {
			return errorResult(ErrIo, "file not found: %s", rel)
		}
		if info.IsDir() {
			return errorResult(ErrInvalidArguments, "%s is a directory", rel)
		}
		paths = append(paths, abs)
	}

	t.bus.PublishOutbound(bus.OutboundMessage{
		Channel:     t.defaultChannel,
		RecipientID: t.defaultChatID,
		Content:     caption,
		Media:       paths,
	})

	return &ToolResult{
		ForLLM: fmt.Sprintf("Sent %d file(s): %s", len(paths), strings.Join(paths, ", ")),
		Silent: true,
	}
}
