package bus

import (
	"log/slog"
	"sync"
	"time"

	"hyfa/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based bus for inbound platform events.
type InMemoryBus struct {
	inbound chan domain.InboundEvent
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
	timeout time.Duration
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound: make(chan domain.InboundEvent, bufferSize),
		logger:  logger,
		timeout: publishTimeout,
	}
}

// Publish blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(evt domain.InboundEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- evt:
	default:
		b.logger.Warn("inbound bus full, waiting...", "channel", evt.ChannelID, "user", evt.UserID)
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		select {
		case b.inbound <- evt:
			b.logger.Info("event delivered after wait", "channel", evt.ChannelID)
		case <-timer.C:
			b.logger.Error("event dropped: bus full",
				"channel", evt.ChannelID,
				"user", evt.UserID,
				"wait", b.timeout,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundEvent {
	return b.inbound
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
