package domain

// Role identifies the author of a ConversationMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one turn of LLM context. It is a value type.
type ConversationMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChannelType mirrors the platform's channel_type field.
type ChannelType string

const (
	ChannelIM     ChannelType = "im"      // direct message
	ChannelGroup  ChannelType = "group"   // private channel
	ChannelMPIM   ChannelType = "mpim"    // multi-person direct message
	ChannelPublic ChannelType = "channel" // public channel
)

// InboundEvent is a decoded message event from the messaging platform.
type InboundEvent struct {
	ChannelID    string
	UserID       string
	Text         string
	Timestamp    string // platform message id (Slack "ts")
	ThreadID     string // empty when the message is not in a thread
	ChannelType  ChannelType
	SubType      string
	ParentUserID string // author of the thread root, when known
}

// InThread reports whether the event carries a thread identifier.
func (e InboundEvent) InThread() bool {
	return e.ThreadID != ""
}

// TranscriptEntry is a message fetched from a channel or thread transcript.
// UserID is the bot's own user id for messages the bot posted.
type TranscriptEntry struct {
	UserID    string
	Text      string
	Timestamp string
}
