package security

import (
	"context"
	"testing"

	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/tools"
)

func TestAllowSender(t *testing.T) {
	gate := NewGate(&config.SecurityConfig{
		AllowedUsers: config.FlexibleStringSlice{"12345", "telegram:777"},
	})

	if !gate.AllowSender("webchat", "anyone-at-all") {
		t.Fatal("webchat senders must always be allowed")
	}
	if !gate.AllowSender("telegram", "12345") {
		t.Fatal("listed sender should be allowed")
	}
	if !gate.AllowSender("telegram", "777") {
		t.Fatal("channel-qualified entry should match")
	}
	if gate.AllowSender("telegram", "999") {
		t.Fatal("unlisted sender must be ignored")
	}
	if gate.AllowSender("discord", "777") {
		t.Fatal("channel-qualified entry must not leak to other channels")
	}
}

func TestAllowSenderAllowAll(t *testing.T) {
	gate := NewGate(&config.SecurityConfig{AllowAllSenders: true})
	if !gate.AllowSender("telegram", "anyone") {
		t.Fatal("allow_all_senders should admit everyone")
	}
}

type stubTool struct{ name string }

func (s *stubTool) Name() string                       { return s.name }
func (s *stubTool) Description() string                { return "stub" }
func (s *stubTool) Parameters() map[string]interface{} { return nil }
func (s *stubTool) RiskLevel() tools.RiskLevel         { return tools.RiskHigh }
func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}) *tools.ToolResult {
	return &tools.ToolResult{}
}

func TestApproveTool(t *testing.T) {
	gate := NewGate(&config.SecurityConfig{
		Approvals: config.ApprovalsConfig{
			Shell:           "human",
			FilesystemWrite: "auto",
		},
	})

	if err := gate.ApproveTool(&stubTool{name: "exec"}); err == nil {
		t.Fatal("human-mode category must be rejected")
	}
	if err := gate.ApproveTool(&stubTool{name: "write_file"}); err != nil {
		t.Fatalf("auto-mode category rejected: %v", err)
	}
	if err := gate.ApproveTool(&stubTool{name: "read_file"}); err != nil {
		t.Fatalf("uncategorized tool rejected: %v", err)
	}
}
