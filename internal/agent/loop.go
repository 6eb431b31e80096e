package agent

import (
	"context"
	"log/slog"
	"sync"

	"hyfa/internal/domain"

	"github.com/google/uuid"
)

// Handler processes one inbound event to completion.
type Handler interface {
	Handle(ctx context.Context, evt domain.InboundEvent) Outcome
}

// OutcomeRecorder aggregates per-event outcomes (metrics, counters).
type OutcomeRecorder interface {
	Record(out Outcome)
}

// Loop consumes inbound events and runs each one in its own goroutine.
// It never waits for a task before reading the next event.
type Loop struct {
	bus      domain.MessageBus
	handler  Handler
	recorder OutcomeRecorder
	logger   *slog.Logger
	wg       sync.WaitGroup
	once     sync.Once
	done     chan struct{} // closed when Run returns
}

// LoopConfig holds the dependencies of the dispatch loop.
type LoopConfig struct {
	Bus      domain.MessageBus
	Handler  Handler
	Recorder OutcomeRecorder // optional
	Logger   *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		bus:      cfg.Bus,
		handler:  cfg.Handler,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		done:     make(chan struct{}),
	}
}

// Run dispatches events until ctx is done or the bus is closed. Events still
// buffered in a closed bus are dispatched before Run returns. Run must be
// called at most once.
func (l *Loop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })
	l.logger.Info("dispatch loop started")

	inbound := l.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("dispatch loop stopping")
			return
		case evt, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound bus closed, dispatch loop stopping")
				return
			}
			l.wg.Add(1)
			go func(e domain.InboundEvent) {
				defer l.wg.Done()
				l.process(ctx, e)
			}(evt)
		}
	}
}

// Wait blocks until Run has returned and every event it dispatched has
// finished. On shutdown, close the bus (or cancel Run's context) first.
func (l *Loop) Wait() {
	<-l.done
	l.wg.Wait()
}

func (l *Loop) process(ctx context.Context, evt domain.InboundEvent) {
	logger := l.logger.With("request_id", uuid.NewString())
	ctx = WithLogger(ctx, logger)

	out := l.handler.Handle(ctx, evt)
	if l.recorder != nil {
		l.recorder.Record(out)
	}

	switch out.Status {
	case StatusDropped:
		return
	case StatusFailed:
		// Handle already logged the cause.
		return
	default:
		logger.Info("message processed",
			"kind", out.Kind,
			"status", out.Status,
			"channel", out.ChannelID,
			"user", out.UserID,
			"duration_ms", out.Duration.Milliseconds(),
		)
	}
}
