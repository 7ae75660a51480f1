package bus

import "context"

const (
	inboundCapacity  = 1024
	outboundCapacity = 256
)

// MessageBus multiplexes every adapter into one inbound queue and fans
// replies back out through the outbound queue. Both queues are bounded and
// in-process only; nothing survives a restart.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, inboundCapacity),
		outbound: make(chan OutboundMessage, outboundCapacity),
	}
}

// PublishInbound blocks when the queue is full, which back-pressures the
// publishing adapter's own goroutine and preserves its arrival order.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg, ok := <-b.inbound:
		return msg, ok
	}
}

func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg, ok := <-b.outbound:
		return msg, ok
	}
}

// InboundLen reports the current queue depth, used by /status.
func (b *MessageBus) InboundLen() int {
	return len(b.inbound)
}
