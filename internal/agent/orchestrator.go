package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hyfa/internal/domain"
)

const (
	// DefaultTranscriptLimit is how many channel or thread messages group replies see.
	DefaultTranscriptLimit = 20

	// DefaultThreadApology is sent when a direct message arrives inside a thread.
	DefaultThreadApology = "I'm sorry, but I cannot respond to messages in threads. Please send a direct message instead."
)

// ErrEmptyResponse is returned when the LLM reply is blank after formatting.
var ErrEmptyResponse = errors.New("llm returned an empty response")

// Status is the terminal state of one handled event.
type Status string

const (
	StatusDone    Status = "done"
	StatusDropped Status = "dropped" // classifier rejected the event
	StatusIgnored Status = "ignored" // blank text at pipeline entry
	StatusRefused Status = "refused" // direct message in a thread, apology sent
	StatusFailed  Status = "failed"
)

// Outcome describes what happened to one inbound event. Callers aggregate it.
type Outcome struct {
	Kind       Kind
	Status     Status
	Err        error
	ChannelID  string
	UserID     string
	Duration   time.Duration
	LLMLatency time.Duration // zero when the LLM was not called
}

// pipeline handles one classified event and fills in out.Status on success.
type pipeline func(ctx context.Context, evt domain.InboundEvent, out *Outcome) error

// Hyfa drives classify -> generate -> format -> persist -> deliver for each event.
type Hyfa struct {
	gateway   domain.MessagingGateway
	llm       domain.LLMGateway
	history   domain.HistoryStore
	typing    *TypingIndicators
	logger    *slog.Logger
	locks     *keyLock
	serialize bool

	transcriptLimit int
	threadApology   string
	handlers        map[Kind]pipeline
	now             func() time.Time
}

// HyfaConfig holds the collaborators and policies of the orchestrator.
type HyfaConfig struct {
	Gateway domain.MessagingGateway
	LLM     domain.LLMGateway
	History domain.HistoryStore
	Typing  *TypingIndicators // optional: built from Gateway when nil
	Logger  *slog.Logger

	TranscriptLimit int
	ThreadApology   string
	// SerializePerUser runs direct pipelines for the same user one at a time, so a
	// history read never misses the previous turn.
	SerializePerUser bool
}

func NewHyfa(cfg HyfaConfig) *Hyfa {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TranscriptLimit <= 0 {
		cfg.TranscriptLimit = DefaultTranscriptLimit
	}
	if cfg.ThreadApology == "" {
		cfg.ThreadApology = DefaultThreadApology
	}
	if cfg.Typing == nil {
		cfg.Typing = NewTypingIndicators(TypingConfig{Gateway: cfg.Gateway, Logger: cfg.Logger})
	}

	h := &Hyfa{
		gateway:         cfg.Gateway,
		llm:             cfg.LLM,
		history:         cfg.History,
		typing:          cfg.Typing,
		logger:          cfg.Logger,
		locks:           newKeyLock(),
		serialize:       cfg.SerializePerUser,
		transcriptLimit: cfg.TranscriptLimit,
		threadApology:   cfg.ThreadApology,
		now:             time.Now,
	}
	h.handlers = map[Kind]pipeline{
		KindDirect: h.handleDirect,
		KindGroup:  h.handleGroup,
	}
	return h
}

// Handle classifies evt and runs the matching pipeline. Failures, including
// panics, are contained here and reported in the Outcome.
func (h *Hyfa) Handle(ctx context.Context, evt domain.InboundEvent) (out Outcome) {
	start := h.now()
	logger := loggerFrom(ctx, h.logger)

	cls := Classify(evt, h.gateway.BotUserID())
	out = Outcome{
		Kind:      cls.Kind,
		Status:    StatusDropped,
		ChannelID: evt.ChannelID,
		UserID:    evt.UserID,
	}

	run, ok := h.handlers[cls.Kind]
	if !ok {
		logger.Debug("event dropped",
			"channel", evt.ChannelID,
			"user", evt.UserID,
			"channel_type", evt.ChannelType,
			"subtype", evt.SubType,
		)
		out.Duration = h.now().Sub(start)
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusFailed
			out.Err = fmt.Errorf("pipeline panic: %v", r)
			logger.Error("pipeline panic", "kind", cls.Kind, "channel", evt.ChannelID, "panic", r)
		}
		out.Duration = h.now().Sub(start)
	}()

	if err := run(ctx, cls.Event, &out); err != nil {
		out.Status = StatusFailed
		out.Err = err
		logger.Error("message pipeline failed",
			"kind", cls.Kind,
			"channel", evt.ChannelID,
			"user", evt.UserID,
			"err", err,
		)
	}
	return out
}

func (h *Hyfa) handleDirect(ctx context.Context, evt domain.InboundEvent, out *Outcome) error {
	if strings.TrimSpace(evt.Text) == "" {
		out.Status = StatusIgnored
		return nil
	}

	if evt.InThread() {
		if err := h.gateway.SendMessage(ctx, evt.ChannelID, h.threadApology, evt.ThreadID); err != nil {
			return fmt.Errorf("send thread apology: %w", err)
		}
		out.Status = StatusRefused
		return nil
	}

	if h.serialize {
		unlock := h.locks.Lock(evt.UserID)
		defer unlock()
	}

	typing := h.typing.Begin(ctx, evt.ChannelID)
	defer h.typing.End(ctx, typing)

	history, err := h.history.Get(ctx, evt.UserID)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	reply, err := h.generate(ctx, evt.Text, history, out)
	if err != nil {
		return err
	}

	if err := h.history.Append(ctx, evt.UserID,
		domain.ConversationMessage{Role: domain.RoleUser, Content: evt.Text},
		domain.ConversationMessage{Role: domain.RoleAssistant, Content: reply},
	); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	if err := h.gateway.SendMessage(ctx, evt.ChannelID, reply, evt.ThreadID); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	out.Status = StatusDone
	return nil
}

func (h *Hyfa) handleGroup(ctx context.Context, evt domain.InboundEvent, out *Outcome) error {
	if strings.TrimSpace(evt.Text) == "" {
		out.Status = StatusIgnored
		return nil
	}

	var (
		entries []domain.TranscriptEntry
		err     error
	)
	if evt.InThread() {
		entries, err = h.gateway.ThreadMessages(ctx, evt.ChannelID, evt.ThreadID, h.transcriptLimit)
		if err != nil {
			return fmt.Errorf("fetch thread transcript: %w", err)
		}
	} else {
		entries, err = h.gateway.ChannelHistory(ctx, evt.ChannelID, h.transcriptLimit)
		if err != nil {
			return fmt.Errorf("fetch channel transcript: %w", err)
		}
	}

	history := TranscriptToHistory(entries, h.gateway.BotUserID(), h.transcriptLimit)

	reply, err := h.generate(ctx, evt.Text, history, out)
	if err != nil {
		return err
	}

	if err := h.gateway.SendMessage(ctx, evt.ChannelID, reply, evt.ThreadID); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	out.Status = StatusDone
	return nil
}

// generate calls the LLM and formats its reply for the platform.
func (h *Hyfa) generate(ctx context.Context, prompt string, history []domain.ConversationMessage, out *Outcome) (string, error) {
	start := h.now()
	raw, err := h.llm.Generate(ctx, prompt, history)
	out.LLMLatency = h.now().Sub(start)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	reply := FormatResponse(raw)
	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyResponse
	}

	loggerFrom(ctx, h.logger).Debug("llm reply generated",
		"history_len", len(history),
		"reply_len", len(reply),
		"latency_ms", out.LLMLatency.Milliseconds(),
	)
	return reply, nil
}

// TranscriptToHistory turns a newest-first transcript into oldest-first LLM context.
// Only the newest limit entries are kept. Entries authored by botUserID become
// assistant turns, everything else user turns.
func TranscriptToHistory(entries []domain.TranscriptEntry, botUserID string, limit int) []domain.ConversationMessage {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	history := make([]domain.ConversationMessage, len(entries))
	for i, e := range entries {
		role := domain.RoleUser
		if botUserID != "" && e.UserID == botUserID {
			role = domain.RoleAssistant
		}
		history[len(entries)-1-i] = domain.ConversationMessage{Role: role, Content: e.Text}
	}
	return history
}
