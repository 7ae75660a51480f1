package bus

import "time"

type MessageKind string

const (
	KindMessage  MessageKind = "message"
	KindReaction MessageKind = "reaction"
)

// InboundMessage is one event emitted by a channel adapter. It is immutable
// once enqueued; Metadata carries the opaque platform payload fields for
// downstream tracing.
type InboundMessage struct {
	Kind       MessageKind       `json:"kind"`
	MessageID  string            `json:"message_id"`
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ThreadID   string            `json:"thread_id,omitempty"`
	IsGroup    bool              `json:"is_group,omitempty"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

type OutboundMessage struct {
	Channel          string   `json:"channel"`
	RecipientID      string   `json:"recipient_id"`
	Content          string   `json:"content"`
	ReplyToMessageID string   `json:"reply_to_message_id,omitempty"`
	Media            []string `json:"media,omitempty"` // local file paths to send
}
