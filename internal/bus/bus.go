// Package bus carries session lifecycle events between channels and the
// gateway loop.
package bus

import (
	"context"
	"log"
	"sync"
)

const DefaultBufSize = 64

type MessageBus struct {
	Ended   chan SessionEnded
	Results chan TicketResult

	mu          sync.RWMutex
	subscribers map[string]func(TicketResult)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = DefaultBufSize
	}
	return &MessageBus{
		Ended:       make(chan SessionEnded, bufSize),
		Results:     make(chan TicketResult, bufSize),
		subscribers: make(map[string]func(TicketResult)),
	}
}

// SubscribeResults registers fn for results addressed to channel. A later
// call for the same channel replaces the handler.
func (b *MessageBus) SubscribeResults(channel string, fn func(TicketResult)) {
	b.mu.Lock()
	b.subscribers[channel] = fn
	b.mu.Unlock()
}

// PublishEnded queues ev unless ctx is done first.
func (b *MessageBus) PublishEnded(ctx context.Context, ev SessionEnded) bool {
	select {
	case b.Ended <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// DispatchResults delivers results to channel subscribers until ctx is done.
func (b *MessageBus) DispatchResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-b.Results:
			b.mu.RLock()
			fn, ok := b.subscribers[res.Channel]
			b.mu.RUnlock()
			if !ok {
				log.Printf("[bus] no subscriber for channel %q", res.Channel)
				continue
			}
			fn(res)
		}
	}
}
