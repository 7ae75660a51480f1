package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveSandboxedRejectsEscapes(t *testing.T) {
	cases := []string{
		"../etc/passwd",
		"a/../../etc/passwd",
		"/etc/passwd",
	}
	for _, path := range cases {
		if _, err := resolveSandboxed("/tmp/ws", path); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("path %q should be Unauthorized, got %v", path, err)
		}
	}

	resolved, err := resolveSandboxed("/tmp/ws", "notes/today.md")
	if err != nil {
		t.Fatalf("relative path rejected: %v", err)
	}
	if resolved != filepath.Join("/tmp/ws", "notes", "today.md") {
		t.Fatalf("unexpected resolution: %s", resolved)
	}
}

func TestReadFileTraversalObservation(t *testing.T) {
	tool := NewReadFileTool(t.TempDir(), 1024)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "../etc/passwd"})
	if !res.IsError || !errors.Is(res.Err, ErrUnauthorized) {
		t.Fatalf("expected Unauthorized result, got %+v", res)
	}
	if !strings.Contains(res.ForLLM, "path traversal is not allowed") {
		t.Fatalf("observation should name the policy, got %q", res.ForLLM)
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	ws := t.TempDir()
	write := NewWriteFileTool(ws, 1024)
	read := NewReadFileTool(ws, 1024)

	res := write.Execute(context.Background(), map[string]interface{}{
		"path":    "sub/notes.txt",
		"content": "remember the milk",
	})
	if res.IsError {
		t.Fatalf("write failed: %+v", res)
	}

	res = read.Execute(context.Background(), map[string]interface{}{"path": "sub/notes.txt"})
	if res.IsError || res.ForLLM != "remember the milk" {
		t.Fatalf("read returned %+v", res)
	}
}

func TestReadFileSizeCap(t *testing.T) {
	ws := t.TempDir()
	big := strings.Repeat("x", 64)
	if err := os.WriteFile(filepath.Join(ws, "big.txt"), []byte(big), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool(ws, 16)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "big.txt"})
	if !res.IsError || !errors.Is(res.Err, ErrInvalidArguments) {
		t.Fatalf("oversized read should fail, got %+v", res)
	}
}

func TestSearchFilesCaps(t *testing.T) {
	ws := t.TempDir()
	for i := 0; i < 10; i++ {
		name := filepath.Join(ws, "match_"+strings.Repeat("a", i+1)+".txt")
		if err := os.WriteFile(name, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	tool := NewSearchFilesTool(ws, 3, 10000)
	res := tool.Execute(context.Background(), map[string]interface{}{"pattern": "match"})
	if res.IsError {
		t.Fatalf("search failed: %+v", res)
	}
	lines := strings.Split(res.ForLLM, "\n")
	var hits int
	for _, l := range lines {
		if strings.HasPrefix(l, "match_") {
			hits++
		}
	}
	if hits != 3 {
		t.Fatalf("expected result cap of 3, got %d hits:\n%s", hits, res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "truncated") {
		t.Fatalf("truncation should be reported:\n%s", res.ForLLM)
	}
}
