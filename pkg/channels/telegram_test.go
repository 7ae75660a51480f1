package channels

import (
	"strings"
	"testing"
)

func TestSplitLargeMessage(t *testing.T) {
	if got := splitLargeMessage("short", 100); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short message should pass through, got %v", got)
	}

	long := strings.Repeat("line one\nline two\n", 50)
	parts := splitLargeMessage(long, 200)
	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}
	for i, p := range parts {
		if len(p) > 200 {
			t.Fatalf("part %d exceeds max: %d", i, len(p))
		}
	}
	joined := strings.Join(parts, "\n")
	if !strings.Contains(joined, "line one") || !strings.Contains(joined, "line two") {
		t.Fatalf("content lost in split")
	}
}

func TestMarkdownToTelegramHTML(t *testing.T) {
	cases := []struct{ in, want string }{
		{"**bold**", "<b>bold</b>"},
		{"plain a < b", "plain a &lt; b"},
		{"`x < y`", "<code>x &lt; y</code>"},
	}
	for _, tc := range cases {
		if got := markdownToTelegramHTML(tc.in); got != tc.want {
			t.Errorf("markdownToTelegramHTML(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMarkdownCodeBlockConversion(t *testing.T) {
	got := markdownToTelegramHTML("before\n```\na < b\n```\nafter")
	if !strings.Contains(got, "<pre>") || !strings.Contains(got, "a &lt; b") {
		t.Fatalf("code block not converted: %q", got)
	}
}

func TestParseChatID(t *testing.T) {
	id, err := parseChatID("123456")
	if err != nil || id != 123456 {
		t.Fatalf("parseChatID(123456) = %d, %v", id, err)
	}
	if _, err := parseChatID("not-a-number"); err == nil {
		t.Fatalf("expected error for non-numeric chat id")
	}
}
