package providers

import (
	"regexp"
	"strconv"
)

var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
var toolNameInvalid = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// NameSanitizer rewrites tool names to fit the OpenAI-family constraint
// without losing identity. It is built once per request from the definition
// list so both directions stay consistent for that batch.
type NameSanitizer struct {
	forward map[string]string // original -> sanitized
	reverse map[string]string // sanitized -> original
}

func NewNameSanitizer(defs []ToolDefinition) *NameSanitizer {
	s := &NameSanitizer{
		forward: make(map[string]string, len(defs)),
		reverse: make(map[string]string, len(defs)),
	}
	for _, def := range defs {
		s.add(def.Function.Name)
	}
	return s
}

func (s *NameSanitizer) add(original string) {
	if _, ok := s.forward[original]; ok {
		return
	}

	candidate := sanitizeToolName(original)
	if _, taken := s.reverse[candidate]; taken {
		// Disambiguate collisions with a running suffix.
		base := candidate
		for n := 1; ; n++ {
			candidate = base + "_" + strconv.Itoa(n)
			if _, taken := s.reverse[candidate]; !taken {
				break
			}
		}
	}

	s.forward[original] = candidate
	s.reverse[candidate] = original
}

// Sanitize maps an original name to its wire form. Names never seen in the
// definition batch are sanitized ad hoc without registration.
func (s *NameSanitizer) Sanitize(original string) string {
	if v, ok := s.forward[original]; ok {
		return v
	}
	return sanitizeToolName(original)
}

// Desanitize maps a wire name back to the original. Unknown names pass
// through unchanged.
func (s *NameSanitizer) Desanitize(wire string) string {
	if v, ok := s.reverse[wire]; ok {
		return v
	}
	return wire
}

// RewriteDefinitions returns a copy of defs with sanitized function names.
func (s *NameSanitizer) RewriteDefinitions(defs []ToolDefinition) []ToolDefinition {
	out := make([]ToolDefinition, len(defs))
	for i, def := range defs {
		out[i] = def
		out[i].Function.Name = s.Sanitize(def.Function.Name)
	}
	return out
}

// RewriteMessages returns a copy of messages with sanitized names on any
// historical tool_calls the client is about to re-send.
func (s *NameSanitizer) RewriteMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, msg := range messages {
		out[i] = msg
		if len(msg.ToolCalls) == 0 {
			continue
		}
		calls := make([]ToolCall, len(msg.ToolCalls))
		for j, tc := range msg.ToolCalls {
			calls[j] = tc
			calls[j].Function.Name = s.Sanitize(tc.Function.Name)
		}
		out[i].ToolCalls = calls
	}
	return out
}

// RewriteResponse de-sanitizes tool-call names on a batch response in place.
func (s *NameSanitizer) RewriteResponse(resp *Response) {
	for i := range resp.ToolCalls {
		resp.ToolCalls[i].Function.Name = s.Desanitize(resp.ToolCalls[i].Function.Name)
	}
}

func sanitizeToolName(name string) string {
	if name == "" {
		return "tool"
	}
	if toolNamePattern.MatchString(name) {
		return name
	}
	out := toolNameInvalid.ReplaceAllString(name, "_")
	if out == "" {
		return "tool"
	}
	return out
}
