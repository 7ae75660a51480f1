package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/providers"
	"github.com/opencraw/opencraw/pkg/session"
)

func newCommandLoop(t *testing.T) *Loop {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Workspace = t.TempDir()
	return NewLoop(cfg, bus.NewMessageBus(), nil)
}

func TestSlashNewResetsSession(t *testing.T) {
	l := newCommandLoop(t)
	l.Sessions().GetOrCreate("webchat", "u1")
	key := session.Key("webchat", "u1")
	l.Sessions().AppendMessage(key, providers.Message{Role: "user", Content: "old stuff"})
	l.Sessions().AddUsage(key, 50, 10)

	reply, handled := l.HandleCommand(inbound("/new"), StatusInfo{})
	if !handled || reply != "Session reset." {
		t.Fatalf("unexpected command result: %q handled=%t", reply, handled)
	}
	if len(l.Sessions().History(key)) != 0 {
		t.Fatal("history must be empty after /new")
	}
	if totals := l.Sessions().UsageTotals(key); totals.PromptTokens != 0 {
		t.Fatalf("usage must reset with the session: %+v", totals)
	}
}

func TestSlashToggles(t *testing.T) {
	l := newCommandLoop(t)
	l.Sessions().GetOrCreate("webchat", "u1")
	key := session.Key("webchat", "u1")

	reply, handled := l.HandleCommand(inbound("/verbose"), StatusInfo{})
	if !handled || !strings.Contains(reply, "enabled") {
		t.Fatalf("first /verbose should enable: %q", reply)
	}
	s, _ := l.Sessions().Snapshot(key)
	if !s.ShowToolCalls {
		t.Fatal("toggle not applied")
	}

	reply, _ = l.HandleCommand(inbound("/verbose"), StatusInfo{})
	if !strings.Contains(reply, "disabled") {
		t.Fatalf("second /verbose should disable: %q", reply)
	}

	if reply, _ := l.HandleCommand(inbound("/think"), StatusInfo{}); !strings.Contains(reply, "enabled") {
		t.Fatalf("unexpected /think reply: %q", reply)
	}
}

func TestSlashStatus(t *testing.T) {
	l := newCommandLoop(t)
	l.Sessions().GetOrCreate("webchat", "u1")

	reply, handled := l.HandleCommand(inbound("/status"), StatusInfo{
		Model:    "gpt-4o-mini",
		Channels: []string{"webchat", "telegram"},
		Uptime:   90 * time.Second,
		QueueLen: 2,
	})
	if !handled {
		t.Fatal("/status must be handled")
	}
	for _, want := range []string{"gpt-4o-mini", "webchat, telegram", "1m30s", "Queued messages: 2"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("status reply missing %q:\n%s", want, reply)
		}
	}
}

func TestUnknownSlashShowsHelp(t *testing.T) {
	l := newCommandLoop(t)
	l.Sessions().GetOrCreate("webchat", "u1")

	reply, handled := l.HandleCommand(inbound("/frobnicate"), StatusInfo{})
	if !handled || !strings.Contains(reply, "/new") {
		t.Fatalf("unknown command should return help: %q", reply)
	}
}

func TestPlainMessageNotHandled(t *testing.T) {
	l := newCommandLoop(t)
	if _, handled := l.HandleCommand(inbound("what time is it"), StatusInfo{}); handled {
		t.Fatal("plain text must not be treated as a command")
	}
}
