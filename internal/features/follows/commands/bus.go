package commands

import (
	"sync"

	"feedkeeper/internal/core"

	"github.com/VictoriaMetrics/metrics"
)

// Bus broadcasts updates to every connected client. A client that can't
// keep up misses updates instead of blocking the others.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Update]struct{}
	buffer int
	logger *core.Logger
}

// NewBus creates a bus with buffer slots per subscriber
func NewBus(buffer int, logger *core.Logger) *Bus {
	return &Bus{
		subs:   map[chan Update]struct{}{},
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns a channel of updates and a function that closes it
func (b *Bus) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends u to every subscriber
func (b *Bus) Publish(u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- u:
		default:
			metrics.GetOrCreateCounter(`feedkeeper_updates_dropped_total`).Inc()
			b.logger.Warn("Dropping update for slow subscriber", "op", u.Op, "path", u.Path)
		}
	}
}

// Subscribers is the number of connected subscribers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
