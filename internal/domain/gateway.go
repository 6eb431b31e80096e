package domain

import "context"

// MessagingGateway is the platform surface consumed by the orchestrator.
//
// ChannelHistory and ThreadMessages return at most limit entries, newest first.
type MessagingGateway interface {
	BotUserID() string
	ChannelHistory(ctx context.Context, channelID string, limit int) ([]TranscriptEntry, error)
	ThreadMessages(ctx context.Context, channelID, threadID string, limit int) ([]TranscriptEntry, error)
	// SendMessage posts text to a channel. An empty threadID posts at top level.
	SendMessage(ctx context.Context, channelID, text, threadID string) error
	SendTypingIndicator(ctx context.Context, channelID string) (string, error)
	DeleteTypingIndicator(ctx context.Context, channelID, markerID string) error
}

// LLMGateway generates a reply to prompt given prior conversation context (oldest first).
type LLMGateway interface {
	Generate(ctx context.Context, prompt string, history []ConversationMessage) (string, error)
}

// HistoryStore keeps a bounded, per-user conversation buffer.
type HistoryStore interface {
	// Get returns an independent copy of the user's buffer, oldest first.
	Get(ctx context.Context, userID string) ([]ConversationMessage, error)
	// Append adds messages in order and keeps only the most recent entries.
	Append(ctx context.Context, userID string, messages ...ConversationMessage) error
}

// MessageBus carries inbound events from a gateway to the dispatcher.
type MessageBus interface {
	Publish(evt InboundEvent)
	Subscribe() <-chan InboundEvent
	Close()
}
