package store

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/contact-engage/internal/model"
)

// ErrContactNotFound is returned by GetContact and UpdateContactStatus when
// the contact id no longer resolves. Job bodies treat it as a no-op, not a
// failure.
var ErrContactNotFound = errors.New("contact not found")

// OutboundActivity is one row of the inactivity-sweep query: a contact with
// at least one outbound message, with the timestamps the sweep decides on.
type OutboundActivity struct {
	ContactID    int64
	LastOutbound time.Time
	LastInbound  *time.Time
	LastSystem   *time.Time
}

// ConversationStore is the persistent record of contacts and their message
// history. The engine reads and mutates it but does not own its schema.
// Message appends must never be lost; contact status writes are
// last-writer-wins at single-record granularity.
type ConversationStore interface {
	GetContact(ctx context.Context, id int64) (*model.Contact, error)
	UpdateContactStatus(ctx context.Context, id int64, status model.ContactStatus, at time.Time) error
	AppendMessage(ctx context.Context, msg model.Message) (model.Message, error)
	ListOutboundActivity(ctx context.Context) ([]OutboundActivity, error)
	ListRecentMessages(ctx context.Context, limit int) ([]model.Message, error)
}
