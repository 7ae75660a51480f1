package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/opencraw/opencraw/pkg/providers"
	"github.com/opencraw/opencraw/pkg/skills"
)

// ContextBuilder assembles the system prompt and the message list handed
// to the provider on every turn.
type ContextBuilder struct {
	workspace string
	skills    *skills.Registry
}

func NewContextBuilder(workspace string, reg *skills.Registry) *ContextBuilder {
	return &ContextBuilder{workspace: workspace, skills: reg}
}

func (cb *ContextBuilder) identity() string {
	now := time.Now().Format("2006-01-02 15:04 (Monday)")
	workspacePath, _ := filepath.Abs(cb.workspace)
	rt := fmt.Sprintf("%s %s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())

	return fmt.Sprintf(`# OpenCraw

You are OpenCraw, a personal assistant reachable over chat. Messages arrive
from several channels (webchat, Telegram, Discord, iMessage, Slack) and
your reply goes back on the channel it came from.

## Environment
- **Runtime**: %s
- **Current Time**: %s
- **Workspace**: %s

## Rules
1. **Use tools for actions** — when something needs doing, call the
   appropriate tool. Never pretend to have run a command.
2. **Stay inside the workspace** — file tools resolve paths relative to it.
3. **Be concise** — chat channels favor short, direct replies.`,
		rt, now, workspacePath)
}

func (cb *ContextBuilder) BuildSystemPrompt() string {
	parts := []string{cb.identity()}

	if bootstrap := cb.loadBootstrapFiles(); bootstrap != "" {
		parts = append(parts, bootstrap)
	}

	if cb.skills != nil {
		if summary := cb.skills.Summary(); summary != "" {
			parts = append(parts, "# Skills\n\nInstalled skills extend your abilities. Read a skill's SKILL.md with the read_file tool before using it.\n\n"+summary)
		}
	}

	return strings.Join(parts, "\n\n---\n\n")
}

// loadBootstrapFiles mixes operator-maintained notes into the prompt when
// present in the workspace.
func (cb *ContextBuilder) loadBootstrapFiles() string {
	var sb strings.Builder
	for _, filename := range []string{"AGENTS.md", "USER.md", "IDENTITY.md"} {
		data, err := os.ReadFile(filepath.Join(cb.workspace, filename))
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", filename, string(data))
	}
	return sb.String()
}

// BuildMessages produces the provider message list: system prompt, prior
// history, then the current user message. Orphaned leading tool messages
// are dropped so the first history entry always answers a real turn.
func (cb *ContextBuilder) BuildMessages(history []providers.Message, userMessage, channel, chatID string) []providers.Message {
	systemPrompt := cb.BuildSystemPrompt()
	if channel != "" && chatID != "" {
		systemPrompt += fmt.Sprintf("\n\n## Current Session\nChannel: %s\nChat ID: %s", channel, chatID)
	}

	for len(history) > 0 && history[0].Role == "tool" {
		history = history[1:]
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, providers.Message{Role: "user", Content: userMessage})
	return messages
}
