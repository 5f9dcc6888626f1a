package domain

import (
	"encoding/json"
	"time"
)

const (
	ActivityTypeMessage            = "message"
	ActivityTypeConversationUpdate = "conversationUpdate"
)

const (
	DeliveryModeNormal        = "normal"
	DeliveryModeExpectReplies = "expectReplies"
)

const TextFormatPlain = "plain"

// ChannelAccount identifies a participant on a channel.
type ChannelAccount struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
type ConversationAccount struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
}

// Activity is the unit exchanged with a channel: user messages and system
// events alike.
type Activity struct {
	Type           string              `json:"type"`
	ID             string              `json:"id,omitempty"`
	Timestamp      *time.Time          `json:"timestamp,omitempty"`
	ServiceURL     string              `json:"serviceUrl,omitempty"`
	ChannelID      string              `json:"channelId,omitempty"`
	From           ChannelAccount      `json:"from"`
	Conversation   ConversationAccount `json:"conversation"`
	Recipient      ChannelAccount      `json:"recipient"`
	Text           string              `json:"text,omitempty"`
	TextFormat     string              `json:"textFormat,omitempty"`
	Locale         string              `json:"locale,omitempty"`
	ReplyToID      string              `json:"replyToId,omitempty"`
	DeliveryMode   string              `json:"deliveryMode,omitempty"`
	MembersAdded   []ChannelAccount    `json:"membersAdded,omitempty"`
	MembersRemoved []ChannelAccount    `json:"membersRemoved,omitempty"`
	ChannelData    json.RawMessage     `json:"channelData,omitempty"`
}

// ExpectsReplies reports whether the caller wants replies in the HTTP response
// instead of through the connector.
func (a Activity) ExpectsReplies() bool {
	return a.DeliveryMode == DeliveryModeExpectReplies
}

// NewTextActivity builds a plain text message activity.
func NewTextActivity(text string) Activity {
	return Activity{
		Type:       ActivityTypeMessage,
		Text:       text,
		TextFormat: TextFormatPlain,
	}
}

// ResourceResponse is returned by the connector for a sent activity.
type ResourceResponse struct {
	ID string `json:"id"`
}

// ExpectedReplies is the response body for expectReplies turns.
type ExpectedReplies struct {
	Activities []Activity `json:"activities"`
}
