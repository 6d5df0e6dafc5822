package bus

import (
	"context"
	"log"
	"sync"
)

// MessageBus decouples channels from the gateway: channels push inbound
// messages and subscribe for outbound ones by channel name.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers the handler that delivers outbound messages for
// one channel. A second subscription for the same name replaces the first.
func (b *MessageBus) SubscribeOutbound(channel string, handler func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = handler
}

// DispatchOutbound pumps the outbound queue to subscribers until ctx is done.
// Messages for unknown channels are dropped with a log line.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			handler := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if handler == nil {
				log.Printf("[bus] no subscriber for channel %q, dropping message", msg.Channel)
				continue
			}
			handler(msg)
		case <-ctx.Done():
			return
		}
	}
}
