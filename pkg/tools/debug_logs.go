package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	debugLogsDefaultLines = 50
	debugLogsMaxLines     = 200
	debugLogsMaxOutput    = 8000
)

// DebugLogsTool reads recent log entries so the model can self-diagnose
// failures when the user asks why something went wrong.
type DebugLogsTool struct {
	logPath string
}

func NewDebugLogsTool(logPath string) *DebugLogsTool {
	return &DebugLogsTool{logPath: logPath}
}

func (t *DebugLogsTool) Name() string { return "debug_logs" }

func (t *DebugLogsTool) Description() string {
	return "Read recent gateway log entries to diagnose errors or unexpected behavior. Supports filtering by minimum level or keyword."
}

func (t *DebugLogsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"lines": map[string]interface{}{
				"type":        "integer",
				"description": "Number of recent log lines to return (default 50, max 200)",
			},
			"keyword": map[string]interface{}{
				"type":        "string",
				"description": "Only include entries containing this keyword",
			},
			"level": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"ERROR", "WARN", "INFO", "DEBUG"},
				"description": "Minimum log level to include",
			},
		},
	}
}

func (t *DebugLogsTool) RiskLevel() RiskLevel { return RiskLow }

type debugLogEntry struct {
	Level     string                 `json:"level"`
	Timestamp string                 `json:"timestamp"`
	Component string                 `json:"component"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
}

func logLevelPriority(level string) int {
	switch strings.ToUpper(level) {
	case "ERROR":
		return 4
	case "WARN":
		return 3
	case "INFO":
		return 2
	case "DEBUG":
		return 1
	default:
		return 0
	}
}

func (t *DebugLogsTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	maxLines := debugLogsDefaultLines
	if l, ok := args["lines"].(float64); ok && l > 0 {
		maxLines = int(l)
		if maxLines > debugLogsMaxLines {
			maxLines = debugLogsMaxLines
		}
	}
	keyword := ""
	if kw, ok := args["keyword"].(string); ok {
		keyword = strings.ToLower(kw)
	}
	minLevel := 0
	if lvl, ok := args["level"].(string); ok && lvl != "" {
		minLevel = logLevelPriority(lvl)
	}

	// Read extra lines so filters have room to work.
	lines, err := readLogTail(t.logPath, maxLines*3)
	if err != nil {
		return errorResult(ErrIo, "read log file: %v", err)
	}
	if len(lines) == 0 {
		return &ToolResult{ForLLM: "Log file is empty.", Silent: true}
	}

	var filtered []debugLogEntry
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e debugLogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		if minLevel > 0 && logLevelPriority(e.Level) < minLevel {
			continue
		}
		if keyword != "" && !entryMatches(e, keyword) {
			continue
		}
		filtered = append(filtered, e)
	}
	if len(filtered) > maxLines {
		filtered = filtered[len(filtered)-maxLines:]
	}
	if len(filtered) == 0 {
		return &ToolResult{ForLLM: "No log entries matched the filters.", Silent: true}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent logs (%d entries):\n", len(filtered))
	for _, e := range filtered {
		fmt.Fprintf(&sb, "[%s] %s [%s] %s", e.Timestamp, e.Level, e.Component, e.Message)
		if len(e.Fields) > 0 {
			if data, err := json.Marshal(e.Fields); err == nil {
				fmt.Fprintf(&sb, " %s", data)
			}
		}
		sb.WriteString("\n")
	}

	out := sb.String()
	if len(out) > debugLogsMaxOutput {
		out = "... (truncated)\n" + out[len(out)-debugLogsMaxOutput:]
	}
	return &ToolResult{ForLLM: out, Silent: true}
}

func entryMatches(e debugLogEntry, keyword string) bool {
	if strings.Contains(strings.ToLower(e.Message), keyword) {
		return true
	}
	if len(e.Fields) == 0 {
		return false
	}
	data, err := json.Marshal(e.Fields)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), keyword)
}

func readLogTail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(all) > n {
		return all[len(all)-n:], nil
	}
	return all, nil
}
