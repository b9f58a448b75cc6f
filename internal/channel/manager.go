package channel

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/aimastermebjm-byte/azzahra-sync/internal/bus"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/config"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/diag"
)

type Manager struct {
	channels map[string]Channel
}

func NewManager(cfg config.ChannelsConfig, diagSource string, b *bus.EventBus, d *diag.Bus) (*Manager, error) {
	m := &Manager{channels: make(map[string]Channel)}

	if cfg.Webhook.Enabled {
		ch, err := NewWebhookChannel(cfg.Webhook, b, d)
		if err != nil {
			return nil, fmt.Errorf("init webhook channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b, diagSource)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	return m, nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			log.Printf("[channel-mgr] starting %s", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *Manager) StopAll() error {
	for name, ch := range m.channels {
		log.Printf("[channel-mgr] stopping %s", name)
		if err := ch.Stop(); err != nil {
			log.Printf("[channel-mgr] error stopping %s: %v", name, err)
		}
	}
	return nil
}

func (m *Manager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
