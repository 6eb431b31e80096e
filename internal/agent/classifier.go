package agent

import (
	"strings"

	"hyfa/internal/domain"
)

// Kind tags the result of classifying an inbound event.
type Kind int

const (
	KindDropped Kind = iota
	KindDirect
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindGroup:
		return "group"
	default:
		return "dropped"
	}
}

// Classification is the tagged result of Classify. Event is zero for KindDropped.
type Classification struct {
	Kind  Kind
	Event domain.InboundEvent
}

// syntheticSubtypes are platform-generated message events that never reach a pipeline.
var syntheticSubtypes = map[string]bool{
	"bot_message":     true,
	"message_changed": true,
	"message_deleted": true,
}

// groupChannelTypes are the multi-party channel types the bot answers in when addressed.
var groupChannelTypes = map[domain.ChannelType]bool{
	domain.ChannelGroup:  true,
	domain.ChannelMPIM:   true,
	domain.ChannelPublic: true,
}

// MentionToken returns the inline mention markup for a user id.
func MentionToken(userID string) string {
	return "<@" + userID + ">"
}

// Classify decides which pipeline, if any, handles evt. It is pure and total.
func Classify(evt domain.InboundEvent, botUserID string) Classification {
	if syntheticSubtypes[evt.SubType] || evt.UserID == botUserID {
		return Classification{Kind: KindDropped}
	}
	if strings.TrimSpace(evt.Text) == "" {
		return Classification{Kind: KindDropped}
	}

	if evt.ChannelType == domain.ChannelIM {
		return Classification{Kind: KindDirect, Event: evt}
	}

	if groupChannelTypes[evt.ChannelType] && addressesBot(evt, botUserID) {
		return Classification{Kind: KindGroup, Event: evt}
	}
	return Classification{Kind: KindDropped}
}

// addressesBot reports whether a group message mentions the bot or replies in a
// thread the bot started.
func addressesBot(evt domain.InboundEvent, botUserID string) bool {
	if botUserID == "" {
		return false
	}
	if strings.Contains(evt.Text, MentionToken(botUserID)) {
		return true
	}
	return evt.InThread() && evt.ParentUserID == botUserID
}
