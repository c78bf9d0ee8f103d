package channel

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Channel is a customer-facing transport that ends sessions onto the bus.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

type ChannelManager struct {
	mu       sync.Mutex
	channels map[string]Channel
}

func NewChannelManager() *ChannelManager {
	return &ChannelManager{channels: make(map[string]Channel)}
}

// Register adds ch; names must be unique.
func (m *ChannelManager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[ch.Name()]; ok {
		return fmt.Errorf("channel %s already registered", ch.Name())
	}
	m.channels[ch.Name()] = ch
	return nil
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, ch := range m.channels {
		log.Printf("[channel-mgr] starting %s", name)
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			log.Printf("[channel-mgr] stop %s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *ChannelManager) EnabledChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
