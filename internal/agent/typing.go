package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hyfa/internal/domain"
)

const (
	// DefaultTypingTimeout bounds how long a typing marker can outlive its request.
	DefaultTypingTimeout = 60 * time.Second
	typingDeleteTimeout  = 10 * time.Second
)

// TypingHandle tracks one ephemeral typing marker. A nil handle is valid and inert.
type TypingHandle struct {
	ChannelID string
	MarkerID  string

	timer *time.Timer
	once  sync.Once
}

// TypingIndicators creates and disposes typing markers through the gateway.
// Every marker is removed exactly once, by End or by the safety timer.
type TypingIndicators struct {
	gateway domain.MessagingGateway
	timeout time.Duration
	logger  *slog.Logger
}

type TypingConfig struct {
	Gateway domain.MessagingGateway
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewTypingIndicators(cfg TypingConfig) *TypingIndicators {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTypingTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TypingIndicators{
		gateway: cfg.Gateway,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Begin shows a typing marker in channelID. Failures are logged and yield a nil handle.
func (t *TypingIndicators) Begin(ctx context.Context, channelID string) *TypingHandle {
	logger := loggerFrom(ctx, t.logger)

	markerID, err := t.gateway.SendTypingIndicator(ctx, channelID)
	if err != nil {
		logger.Warn("typing indicator failed", "channel", channelID, "err", err)
		return nil
	}
	if markerID == "" {
		logger.Warn("typing indicator returned no marker", "channel", channelID)
		return nil
	}

	h := &TypingHandle{ChannelID: channelID, MarkerID: markerID}
	h.timer = time.AfterFunc(t.timeout, func() {
		logger.Warn("typing indicator expired", "channel", channelID, "after", t.timeout)
		t.dispose(WithLogger(context.Background(), logger), h)
	})
	return h
}

// End cancels the safety timer and removes the marker. Repeated calls are no-ops.
func (t *TypingIndicators) End(ctx context.Context, h *TypingHandle) {
	if h == nil {
		return
	}
	h.timer.Stop()
	t.dispose(context.WithoutCancel(ctx), h)
}

func (t *TypingIndicators) dispose(ctx context.Context, h *TypingHandle) {
	h.once.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, typingDeleteTimeout)
		defer cancel()
		if err := t.gateway.DeleteTypingIndicator(ctx, h.ChannelID, h.MarkerID); err != nil {
			loggerFrom(ctx, t.logger).Warn("typing indicator cleanup failed",
				"channel", h.ChannelID,
				"marker", h.MarkerID,
				"err", err,
			)
		}
	})
}
