package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LeventeLantos/contact-engage/internal/model"
)

// MemoryStore is an in-process ConversationStore. A single mutex serializes
// all writes, so message appends can never race destructively and status
// writes are last-writer-wins per contact.
type MemoryStore struct {
	mu        sync.Mutex
	contacts  map[int64]model.Contact
	messages  []model.Message
	nextMsgID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts:  make(map[int64]model.Contact),
		nextMsgID: 1,
	}
}

// PutContact creates or overwrites a contact record. Ingestion lives
// outside the engine; this is its entry point into the store.
func (s *MemoryStore) PutContact(c model.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Status == "" {
		c.Status = model.StatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.contacts[c.ID] = c
}

func (s *MemoryStore) DeleteContact(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, id)
}

func (s *MemoryStore) GetContact(ctx context.Context, id int64) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok {
		return nil, ErrContactNotFound
	}
	return &c, nil
}

func (s *MemoryStore) UpdateContactStatus(ctx context.Context, id int64, status model.ContactStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok {
		return ErrContactNotFound
	}

	c.Status = status
	t := at.UTC()
	c.UpdatedAt = &t
	s.contacts[id] = c
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = s.nextMsgID
	s.nextMsgID++
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *MemoryStore) ListOutboundActivity(ctx context.Context) ([]OutboundActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byContact := make(map[int64]*OutboundActivity)
	for _, m := range s.messages {
		a := byContact[m.ContactID]
		if a == nil {
			a = &OutboundActivity{ContactID: m.ContactID}
			byContact[m.ContactID] = a
		}
		switch m.Direction {
		case model.DirectionOutbound:
			if m.CreatedAt.After(a.LastOutbound) {
				a.LastOutbound = m.CreatedAt
			}
		case model.DirectionInbound:
			if a.LastInbound == nil || m.CreatedAt.After(*a.LastInbound) {
				t := m.CreatedAt
				a.LastInbound = &t
			}
		case model.DirectionSystem:
			if a.LastSystem == nil || m.CreatedAt.After(*a.LastSystem) {
				t := m.CreatedAt
				a.LastSystem = &t
			}
		}
	}

	var out []OutboundActivity
	for _, a := range byContact {
		if a.LastOutbound.IsZero() {
			// No outbound message at all: not the sweep's business.
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out, nil
}

func (s *MemoryStore) ListRecentMessages(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MessagesFor returns a copy of one contact's history in append order.
// Intended for tests and embedders.
func (s *MemoryStore) MessagesFor(contactID int64) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Message
	for _, m := range s.messages {
		if m.ContactID == contactID {
			out = append(out, m)
		}
	}
	return out
}
