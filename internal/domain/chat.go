package domain

import "time"

// ChatFilter narrows chat listings to a chat kind.
type ChatFilter string

const (
	FilterAll        ChatFilter = "all"
	FilterGroup      ChatFilter = "group"
	FilterIndividual ChatFilter = "individual"
)

// Valid reports whether the filter is one of the known kinds.
func (f ChatFilter) Valid() bool {
	switch f {
	case FilterAll, FilterGroup, FilterIndividual:
		return true
	}
	return false
}

// Chat is the durable per-conversation record, keyed by (session, chat).
// LastMessage/LastMessageAt are cached previews maintained by ingestion
// and corrected by read-repair against the message log.
type Chat struct {
	ChatID        string
	SessionID     string
	Name          string
	LastMessage   string
	LastMessageAt time.Time
	UnreadCount   int
	Pinned        bool
	Archived      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MessageStatus tracks delivery progress of a stored message.
type MessageStatus string

const (
	MessageStatusReceived  MessageStatus = "received"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Message is an append-only record of one protocol message. Only Status
// may change after creation.
type Message struct {
	MessageID string
	ChatID    string
	SessionID string
	From      string
	To        string
	Body      string
	FromMe    bool
	Timestamp time.Time
	Status    MessageStatus
}
