package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"hyfa/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const (
	slackMaxMsgLen      = 4000
	defaultTypingText   = "_is typing..._"
	repliesPageSize     = 200
	maxRepliesPages     = 10
	defaultHistoryLimit = 20
)

// Slack implements domain.MessagingGateway using Socket Mode for events and
// the Web API for everything else.
type Slack struct {
	appToken   string
	typingText string
	debug      bool
	client     *slack.Client
	logger     *slog.Logger

	mu     sync.RWMutex
	botUID string // the bot's own user ID, resolved by auth.test
	botID  string // the bot's B-prefixed id, resolved by auth.test
}

// SlackConfig configures the Slack gateway.
type SlackConfig struct {
	BotToken   string
	AppToken   string // xapp- token, required for Socket Mode
	TypingText string
	APIURL     string // optional override of https://slack.com/api/
	Debug      bool
	Logger     *slog.Logger
}

// NewSlack creates a Slack gateway. No network calls are made until Start or AuthTest.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TypingText == "" {
		cfg.TypingText = defaultTypingText
	}

	opts := []slack.Option{slack.OptionAppLevelToken(cfg.AppToken)}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	if cfg.Debug {
		opts = append(opts, slack.OptionDebug(true))
	}

	return &Slack{
		appToken:   cfg.AppToken,
		typingText: cfg.TypingText,
		debug:      cfg.Debug,
		client:     slack.New(cfg.BotToken, opts...),
		logger:     cfg.Logger,
	}
}

// BotUserID returns the bot's own user id, empty before AuthTest succeeds.
func (s *Slack) BotUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botUID
}

// AuthTest resolves the bot identity and remembers its user id.
func (s *Slack) AuthTest(ctx context.Context) (*slack.AuthTestResponse, error) {
	resp, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack auth: %w", err)
	}
	s.mu.Lock()
	s.botUID = resp.UserID
	s.botID = resp.BotID
	s.mu.Unlock()
	return resp, nil
}

// Start authenticates, then publishes message events to bus until ctx is done.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	if s.appToken == "" {
		return errors.New("slack: app-level token is required for socket mode")
	}

	authResp, err := s.AuthTest(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID, "team", authResp.Team)

	socketClient := socketmode.New(s.client, socketmode.OptionDebug(s.debug))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-socketClient.Events:
				if !ok {
					return
				}
				s.handleSocketEvent(socketClient, evt, bus)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) handleSocketEvent(client *socketmode.Client, evt socketmode.Event, bus domain.MessageBus) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		s.logger.Debug("slack socket connecting")
	case socketmode.EventTypeConnected:
		s.logger.Info("slack socket connected")
	case socketmode.EventTypeConnectionError:
		s.logger.Warn("slack socket connection error, retrying")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		client.Ack(*evt.Request)
		if inbound, ok := s.toInboundEvent(eventsAPIEvent); ok {
			bus.Publish(inbound)
		}
	case socketmode.EventTypeInteractive, socketmode.EventTypeSlashCommand:
		// Not handled, but acked so Slack does not redeliver them.
		if evt.Request != nil {
			client.Ack(*evt.Request)
		}
	}
}

// toInboundEvent decodes message events. App mention events are skipped since
// the same message also arrives as a message event.
func (s *Slack) toInboundEvent(event slackevents.EventsAPIEvent) (domain.InboundEvent, bool) {
	if event.Type != slackevents.CallbackEvent {
		return domain.InboundEvent{}, false
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return domain.InboundEvent{}, false
	}

	inbound := domain.InboundEvent{
		ChannelID:    ev.Channel,
		UserID:       ev.User,
		Text:         ev.Text,
		Timestamp:    ev.TimeStamp,
		ThreadID:     ev.ThreadTimeStamp,
		ChannelType:  domain.ChannelType(ev.ChannelType),
		SubType:      ev.SubType,
		ParentUserID: parentUserID(event),
	}
	if inbound.SubType == "" && ev.BotID != "" && inbound.UserID == "" {
		inbound.SubType = "bot_message"
	}

	s.logger.Debug("slack message received",
		"user", inbound.UserID,
		"channel", inbound.ChannelID,
		"channel_type", inbound.ChannelType,
		"thread", inbound.ThreadID,
		"content_len", len(inbound.Text),
	)
	return inbound, true
}

// parentUserID reads parent_user_id from the raw inner event, which the typed
// message event does not expose.
func parentUserID(event slackevents.EventsAPIEvent) string {
	cb, ok := event.Data.(*slackevents.EventsAPICallbackEvent)
	if !ok || cb.InnerEvent == nil {
		return ""
	}
	var raw struct {
		ParentUserID string `json:"parent_user_id"`
	}
	if err := json.Unmarshal(*cb.InnerEvent, &raw); err != nil {
		return ""
	}
	return raw.ParentUserID
}

// ChannelHistory returns the newest limit messages of a channel, newest first.
func (s *Slack) ChannelHistory(ctx context.Context, channelID string, limit int) ([]domain.TranscriptEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	resp, err := s.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("conversations.history: %w", err)
	}

	entries := make([]domain.TranscriptEntry, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		entries = append(entries, s.toTranscriptEntry(m))
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// ThreadMessages returns the newest limit messages of a thread, newest first.
// Slack lists replies oldest first, so all pages are read and the tail kept.
func (s *Slack) ThreadMessages(ctx context.Context, channelID, threadID string, limit int) ([]domain.TranscriptEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var (
		all    []domain.TranscriptEntry
		cursor string
	)
	for page := 0; page < maxRepliesPages; page++ {
		msgs, hasMore, next, err := s.client.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadID,
			Cursor:    cursor,
			Limit:     repliesPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("conversations.replies: %w", err)
		}
		for _, m := range msgs {
			all = append(all, s.toTranscriptEntry(m))
		}
		if len(all) > limit {
			all = all[len(all)-limit:]
		}
		if !hasMore || next == "" {
			break
		}
		cursor = next
	}

	out := make([]domain.TranscriptEntry, len(all))
	for i, e := range all {
		out[len(all)-1-i] = e
	}
	return out, nil
}

// toTranscriptEntry attributes messages posted through the bot's integration
// without a user field to the bot's own user id.
func (s *Slack) toTranscriptEntry(m slack.Message) domain.TranscriptEntry {
	userID := m.User
	if userID == "" && m.BotID != "" {
		s.mu.RLock()
		if m.BotID == s.botID {
			userID = s.botUID
		}
		s.mu.RUnlock()
	}
	return domain.TranscriptEntry{
		UserID:    userID,
		Text:      m.Text,
		Timestamp: m.Timestamp,
	}
}

// SendMessage posts text, split into chunks Slack accepts, optionally in a thread.
func (s *Slack) SendMessage(ctx context.Context, channelID, text, threadID string) error {
	for _, chunk := range splitSlackMessage(text, slackMaxMsgLen) {
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if threadID != "" {
			opts = append(opts, slack.MsgOptionTS(threadID))
		}
		if _, _, err := s.client.PostMessageContext(ctx, channelID, opts...); err != nil {
			return fmt.Errorf("chat.postMessage: %w", err)
		}
	}
	return nil
}

// SendTypingIndicator posts a "me" message and returns its timestamp as the marker id.
func (s *Slack) SendTypingIndicator(ctx context.Context, channelID string) (string, error) {
	_, ts, _, err := s.client.SendMessageContext(ctx, channelID,
		slack.MsgOptionMeMessage(),
		slack.MsgOptionText(s.typingText, false),
	)
	if err != nil {
		return "", fmt.Errorf("chat.meMessage: %w", err)
	}
	return ts, nil
}

func (s *Slack) DeleteTypingIndicator(ctx context.Context, channelID, markerID string) error {
	if _, _, err := s.client.DeleteMessageContext(ctx, channelID, markerID); err != nil {
		return fmt.Errorf("chat.delete: %w", err)
	}
	return nil
}

// splitSlackMessage breaks msg into chunks of at most maxLen bytes, preferring
// newline boundaries and never splitting a UTF-8 sequence.
func splitSlackMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > maxLen {
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		} else {
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	if msg != "" {
		chunks = append(chunks, msg)
	}
	return chunks
}
