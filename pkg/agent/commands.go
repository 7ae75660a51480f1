package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/session"
	"github.com/opencraw/opencraw/pkg/usage"
)

const commandHelp = `Commands:
/new - start a fresh session
/think - toggle showing model reasoning
/verbose - toggle showing tool calls
/usage [last|session|today] - token usage
/status - gateway status`

// StatusInfo is supplied by the dispatcher for /status replies.
type StatusInfo struct {
	Model    string
	Channels []string
	Uptime   time.Duration
	QueueLen int
}

// HandleCommand intercepts slash commands before the LLM sees the
// message. Returns the reply and whether the message was a command.
func (l *Loop) HandleCommand(msg bus.InboundMessage, status StatusInfo) (string, bool) {
	trimmed := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(trimmed, "/") {
		return "", false
	}

	key := session.Key(msg.Channel, msg.SenderID)
	word := strings.Fields(trimmed)[0]

	switch word {
	case "/new":
		l.sessions.Reset(key)
		l.sessions.Save(key)
		return "Session reset.", true
	case "/think":
		if l.sessions.ToggleShowThinking(key) {
			return "Thinking display enabled.", true
		}
		return "Thinking display disabled.", true
	case "/verbose":
		if l.sessions.ToggleShowToolCalls(key) {
			return "Tool call display enabled.", true
		}
		return "Tool call display disabled.", true
	case "/usage":
		return l.usageReply(key, trimmed), true
	case "/status":
		return l.statusReply(key, status), true
	default:
		return commandHelp, true
	}
}

func (l *Loop) statusReply(key string, status StatusInfo) string {
	model := l.sessions.EffectiveModel(key, l.model)
	channels := "none"
	if len(status.Channels) > 0 {
		channels = strings.Join(status.Channels, ", ")
	}
	totals := l.sessions.UsageTotals(key)
	return fmt.Sprintf(
		"Model: %s\nChannels: %s\nUptime: %s\nQueued messages: %d\nSession tokens: %s in / %s out",
		model,
		channels,
		status.Uptime.Round(time.Second),
		status.QueueLen,
		usage.HumanTokens(totals.PromptTokens),
		usage.HumanTokens(totals.CompletionTokens),
	)
}

func (l *Loop) usageReply(key, command string) string {
	parts := strings.Fields(command)
	mode := ""
	if len(parts) > 1 {
		mode = strings.ToLower(parts[1])
	}

	dayKey := l.usageStore.TodayKey()

	switch mode {
	case "last":
		last, ok := l.usageStore.LastBySession(key)
		if !ok {
			return "No usage records found for this session yet."
		}
		return fmt.Sprintf(
			"Last call (%s): model=%s provider=%s in=%s out=%s total=%s",
			last.Timestamp.Format(time.RFC3339),
			last.Model,
			last.Provider,
			usage.HumanTokens(last.PromptTokens),
			usage.HumanTokens(last.CompletionTokens),
			usage.HumanTokens(last.TotalTokens),
		)
	case "session":
		records := l.usageStore.Query(usage.Filter{SessionKey: key, Limit: 20})
		if len(records) == 0 {
			return "No usage records found for this session yet."
		}
		lines := []string{
			fmt.Sprintf("Session usage (%s), latest %d:", key, len(records)),
			formatAggregate("Summary", usage.AggregateRecords(records)),
		}
		for _, r := range records {
			lines = append(lines, fmt.Sprintf("- %s %s in=%s out=%s",
				r.Timestamp.Format(time.RFC3339),
				r.Model,
				usage.HumanTokens(r.PromptTokens),
				usage.HumanTokens(r.CompletionTokens)))
		}
		return strings.Join(lines, "\n")
	case "today":
		records := l.usageStore.Query(usage.Filter{DayKey: dayKey})
		if len(records) == 0 {
			return fmt.Sprintf("No usage records for today (%s) yet.", dayKey)
		}
		lines := []string{
			fmt.Sprintf("Today (%s):", dayKey),
			formatAggregate("Summary", usage.AggregateRecords(records)),
		}
		byProvider := usage.ProviderBreakdown(records)
		names := make([]string, 0, len(byProvider))
		for p := range byProvider {
			names = append(names, p)
		}
		sort.Strings(names)
		for _, p := range names {
			lines = append(lines, "  "+formatAggregate(p, byProvider[p]))
		}
		return strings.Join(lines, "\n")
	default:
		sessionAgg := usage.AggregateRecords(l.usageStore.Query(usage.Filter{SessionKey: key}))
		todayAgg := usage.AggregateRecords(l.usageStore.Query(usage.Filter{DayKey: dayKey}))
		return strings.Join([]string{
			fmt.Sprintf("Usage (%s):", dayKey),
			formatAggregate("This session", sessionAgg),
			formatAggregate("Today", todayAgg),
			"",
			"/usage last · session · today",
		}, "\n")
	}
}

func formatAggregate(label string, agg usage.Aggregate) string {
	return fmt.Sprintf("%s: calls=%d in=%s (%s) out=%s (%s) total=%s (%s)",
		label,
		agg.Calls,
		usage.GroupedInt(agg.PromptTokens),
		usage.HumanTokens(agg.PromptTokens),
		usage.GroupedInt(agg.CompletionTokens),
		usage.HumanTokens(agg.CompletionTokens),
		usage.GroupedInt(agg.TotalTokens),
		usage.HumanTokens(agg.TotalTokens),
	)
}
