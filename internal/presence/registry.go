package presence

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Service routes events to the live channels registered under an address
type Service interface {
	Register(ctx context.Context, address string, ch Channel) error
	Unregister(ctx context.Context, address string, ch Channel) error
	Lookup(ctx context.Context, address string) (bool, error)
	// Publish delivers ev to every channel under address and returns how
	// many accepted it.
	Publish(ctx context.Context, address string, ev Event) (int, error)
}

// Local is an in-process presence registry
type Local struct {
	mu       sync.RWMutex
	channels map[string]map[string]Channel
}

// NewLocal creates an empty in-process registry
func NewLocal() *Local {
	return &Local{channels: make(map[string]map[string]Channel)}
}

// Register adds ch under address; registering the same channel twice is a no-op
func (l *Local) Register(_ context.Context, address string, ch Channel) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.channels[address]
	if !ok {
		set = make(map[string]Channel)
		l.channels[address] = set
	}
	set[ch.ID()] = ch
	return nil
}

// Unregister removes ch from address; other channels under it stay registered
func (l *Local) Unregister(_ context.Context, address string, ch Channel) error {
	l.remove(address, ch.ID())
	return nil
}

func (l *Local) has(address string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.channels[address]) > 0
}

func (l *Local) remove(address, channelID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.channels[address]
	if !ok {
		return
	}
	delete(set, channelID)
	if len(set) == 0 {
		delete(l.channels, address)
	}
}

// Lookup reports whether address has a live channel in this process
func (l *Local) Lookup(_ context.Context, address string) (bool, error) {
	return l.has(address), nil
}

// Publish sends ev to every local channel under address. A channel that
// fails to accept the event is dropped and closed.
func (l *Local) Publish(_ context.Context, address string, ev Event) (int, error) {
	l.mu.RLock()
	targets := make([]Channel, 0, len(l.channels[address]))
	for _, ch := range l.channels[address] {
		targets = append(targets, ch)
	}
	l.mu.RUnlock()

	delivered := 0
	for _, ch := range targets {
		if err := ch.Send(ev); err != nil {
			log.Warn().Err(err).
				Str("address", address).
				Str("channelId", ch.ID()).
				Msg("Dropping unresponsive channel")
			l.remove(address, ch.ID())
			ch.Close()
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Addresses returns the addresses that currently have local channels
func (l *Local) Addresses() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.channels))
	for addr := range l.channels {
		out = append(out, addr)
	}
	return out
}
