package domain

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// TranscriptEntry is a single persisted activity of a conversation.
type TranscriptEntry struct {
	PK             string
	SK             string
	ConversationID string
	ActivityID     string
	Type           string
	Direction      string
	FromID         string
	RecipientID    string
	Text           string
	TTL            int64
}
