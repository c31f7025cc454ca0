package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/LeventeLantos/contact-engage/internal/model"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetContact(ctx context.Context, id int64) (*model.Contact, error) {
	var c model.Contact
	var status string
	var updatedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, phone_number, name, status, created_at, updated_at
		FROM contacts
		WHERE id = $1
	`, id).Scan(&c.ID, &c.PhoneNumber, &c.Name, &status, &c.CreatedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Status = model.ContactStatus(status)
	if updatedAt.Valid {
		t := updatedAt.Time
		c.UpdatedAt = &t
	}
	return &c, nil
}

func (s *PostgresStore) UpdateContactStatus(ctx context.Context, id int64, status model.ContactStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, id, string(status), at.UTC())
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrContactNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (contact_id, content, direction, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, msg.ContactID, msg.Content, string(msg.Direction), string(msg.Status), createdAt).Scan(&msg.ID)
	if err != nil {
		return model.Message{}, err
	}

	msg.CreatedAt = createdAt
	return msg, nil
}

// ListOutboundActivity returns, for every contact with at least one
// outbound message, the timestamps of its most recent outbound, inbound and
// system messages. One query gives the sweep a consistent snapshot.
func (s *PostgresStore) ListOutboundActivity(ctx context.Context) ([]OutboundActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.contact_id,
		       MAX(m.created_at) FILTER (WHERE m.direction = 'outbound') AS last_outbound,
		       MAX(m.created_at) FILTER (WHERE m.direction = 'inbound')  AS last_inbound,
		       MAX(m.created_at) FILTER (WHERE m.direction = 'system')   AS last_system
		FROM messages m
		GROUP BY m.contact_id
		HAVING MAX(m.created_at) FILTER (WHERE m.direction = 'outbound') IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboundActivity
	for rows.Next() {
		var a OutboundActivity
		var lastIn, lastSys sql.NullTime

		if err := rows.Scan(&a.ContactID, &a.LastOutbound, &lastIn, &lastSys); err != nil {
			return nil, err
		}
		if lastIn.Valid {
			t := lastIn.Time
			a.LastInbound = &t
		}
		if lastSys.Valid {
			t := lastSys.Time
			a.LastSystem = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRecentMessages(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contact_id, content, direction, status, created_at
		FROM messages
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var direction, status string

		if err := rows.Scan(&m.ID, &m.ContactID, &m.Content, &direction, &status, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Direction = model.Direction(direction)
		m.Status = model.MessageStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}
