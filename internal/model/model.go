package model

import "time"

// ContactStatus is the lifecycle state of a conversation. A contact starts
// as Pending when ingested, becomes Processed after a successful welcome
// send, and Failed when the inactivity sweep gives up on it. The engine
// never moves a contact back to Pending on its own; a fresh ingest cycle
// may reset one explicitly, so the stores accept any status write.
type ContactStatus string

const (
	StatusPending   ContactStatus = "pending"
	StatusProcessed ContactStatus = "processed"
	StatusFailed    ContactStatus = "failed"
)

// Direction classifies a message within a conversation.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionSystem   Direction = "system"
)

// MessageStatus is the transport-reported outcome recorded on a message.
type MessageStatus string

const (
	MessageSent   MessageStatus = "sent"
	MessageFailed MessageStatus = "failed"
)

type Contact struct {
	ID          int64
	PhoneNumber string
	Name        string
	Status      ContactStatus
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// Message is an immutable entry in a contact's conversation history.
// The core only ever appends messages; status derivations (the inactivity
// sweep) read the history directly instead of a cached counter.
type Message struct {
	ID        int64
	ContactID int64
	Content   string
	Direction Direction
	Status    MessageStatus
	CreatedAt time.Time
}
