package channel

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/AgN1ke/aisus/internal/bus"
	"github.com/AgN1ke/aisus/internal/config"
)

// Manager owns the configured channels and routes outbound messages to them.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
}

func NewManager(cfg *config.Config, b *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      b,
	}

	if cfg.Channels.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Channels.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("create telegram channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	if len(m.channels) == 0 {
		return nil, fmt.Errorf("no channels enabled")
	}

	for name, ch := range m.channels {
		ch := ch
		b.SubscribeOutbound(name, func(msg bus.OutboundMessage) {
			if err := ch.Send(msg); err != nil {
				log.Printf("[channels] send via %s failed: %v", ch.Name(), err)
			}
		})
	}

	return m, nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for _, ch := range m.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("start %s: %w", ch.Name(), err)
			}
		}(ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}

	log.Printf("[channels] started %d channel(s)", len(m.channels))
	return nil
}

func (m *Manager) StopAll() {
	for _, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			log.Printf("[channels] stop %s failed: %v", ch.Name(), err)
		}
	}
}

// EnabledChannels lists the active channel names.
func (m *Manager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
