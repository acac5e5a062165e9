package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Bus is an in-process publisher that fans events out to subscribers over
// buffered channels. Slow subscribers drop events rather than block the
// publishing path.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[int]chan Envelope
	nextID int
	closed bool
}

// NewBus creates an in-process event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[int]chan Envelope),
	}
}

// Subscribe registers a new subscriber. cancel detaches it and closes the
// channel.
func (b *Bus) Subscribe(buffer int) (ch <-chan Envelope, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	c := make(chan Envelope, buffer)
	if b.closed {
		close(c)
		return c, func() {}
	}
	b.subs[id] = c

	return c, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers ev to every subscriber.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	env := Envelope{Type: ev.EventType(), Timestamp: now(), Data: ev}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		select {
		case sub <- env:
		default:
			b.logger.Warn("event subscriber lagging, dropping event",
				zap.Int("subscriber", id), zap.String("type", env.Type))
		}
	}
	return nil
}

// Close detaches all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
	return nil
}

// MultiPublisher publishes each event to every inner publisher in order.
type MultiPublisher []Publisher

// Publish implements Publisher.
func (m MultiPublisher) Publish(ctx context.Context, ev Event) error {
	var firstErr error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close implements Publisher.
func (m MultiPublisher) Close() error {
	var firstErr error
	for _, p := range m {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
