package security

import (
	"fmt"
	"strings"

	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/logger"
	"github.com/opencraw/opencraw/pkg/tools"
)

// Gate enforces the two admission policies: who may talk to the
// assistant, and which proposed tool calls may run.
type Gate struct {
	cfg *config.SecurityConfig
}

func NewGate(cfg *config.SecurityConfig) *Gate {
	return &Gate{cfg: cfg}
}

// AllowSender reports whether a message from (channel, senderID) should
// be processed. Webchat connections are local and always trusted; other
// channels go through allow_all_senders or the allowlist. Rejected
// senders are ignored silently, never answered.
func (g *Gate) AllowSender(channel, senderID string) bool {
	if channel == "webchat" {
		return true
	}
	if g.cfg.AllowAllSenders {
		return true
	}
	for _, entry := range g.cfg.AllowedUsers {
		if entry == senderID || entry == channel+":"+senderID {
			return true
		}
	}
	logger.DebugCF("security", "Ignoring message from unlisted sender",
		map[string]interface{}{"channel": channel, "sender": senderID})
	return false
}

// ApproveTool applies the configured approval mode for the tool's
// category. "auto" and "ai" permit the call; "human" rejects it so the
// model can relay the policy to the user.
func (g *Gate) ApproveTool(tool tools.Tool) error {
	mode := g.modeFor(tool.Name())
	switch strings.ToLower(mode) {
	case "", "auto", "ai":
		return nil
	case "human":
		return fmt.Errorf("tool %q requires human approval and none was given", tool.Name())
	default:
		return fmt.Errorf("unknown approval mode %q for tool %q", mode, tool.Name())
	}
}

func (g *Gate) modeFor(toolName string) string {
	switch toolName {
	case "exec":
		return g.cfg.Approvals.Shell
	case "write_file":
		return g.cfg.Approvals.FilesystemWrite
	case "browser":
		return g.cfg.Approvals.Browser
	default:
		return "auto"
	}
}
