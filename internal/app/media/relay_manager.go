package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

type RelayManager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[string]*Relay),
	}
}

// StartRelay creates a new Relay under key and starts its loop. onEnd runs on
// the relay goroutine once the source stops.
func (m *RelayManager) StartRelay(ctx context.Context, key string, src PacketSource, onEnd func(error)) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("key", key).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src)
	relay.cancel = cancel

	m.mu.Lock()
	if old, ok := m.relays[key]; ok {
		logger.Info().Msg("replacing existing relay")
		old.markAllDelete()
		if old.cancel != nil {
			old.cancel()
		}
	}
	m.relays[key] = relay
	m.mu.Unlock()

	logger.Debug().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger, func(err error) {
		m.mu.Lock()
		if m.relays[key] == relay {
			delete(m.relays, key)
		}
		m.mu.Unlock()
		if onEnd != nil {
			onEnd(err)
		}
	})
	return relay
}

// AddSink attaches a sink to the relay under key.
func (m *RelayManager) AddSink(key, dst string, sink PacketSink) (*OutTrack, bool) {
	m.mu.RLock()
	relay, ok := m.relays[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	ot := NewOutTrack(sink)
	relay.AddOutTrack(dst, ot)
	return ot, true
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(key string) {
	m.mu.Lock()
	relay, ok := m.relays[key]
	if ok {
		delete(m.relays, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	if relay.cancel != nil {
		relay.cancel()
	}
}

func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	m.mu.Unlock()
	for _, relay := range relays {
		relay.markAllDelete()
		if relay.cancel != nil {
			relay.cancel()
		}
	}
}
