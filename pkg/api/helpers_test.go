package api

import (
	"context"
	"time"

	"github.com/opencraw/opencraw/pkg/bus"
)

func drainBusInbound(b *bus.MessageBus) []bus.InboundMessage {
	var out []bus.InboundMessage
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		msg, ok := b.ConsumeInbound(ctx)
		cancel()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

func drainBusOutbound(b *bus.MessageBus) []bus.OutboundMessage {
	var out []bus.OutboundMessage
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		msg, ok := b.ConsumeOutbound(ctx)
		cancel()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}
