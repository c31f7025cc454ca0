package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LeventeLantos/contact-engage/internal/cache"
	"github.com/LeventeLantos/contact-engage/internal/model"
	"github.com/LeventeLantos/contact-engage/internal/queue"
	"github.com/LeventeLantos/contact-engage/internal/store"
	"github.com/LeventeLantos/contact-engage/internal/transport"
)

const (
	KindSendOne       = "send-one"
	KindSendWelcome   = "send-welcome"
	KindSweepInactive = "sweep-inactive"

	// RecurringSweepName identifies the daily inactivity check; re-registering
	// it replaces the cadence instead of adding a second schedule.
	RecurringSweepName = "check-inactive-conversations"

	inactivityNotice = "Conversation marked as failed due to inactivity"
)

// Scheduler is the slice of the job queue the engine depends on. Injected
// so tests can substitute a synchronous fake.
type Scheduler interface {
	Enqueue(job queue.Job)
	Schedule(job queue.Job, at time.Time)
	ScheduleRecurring(name string, cadence queue.Cadence, job queue.Job) error
}

type Options struct {
	WelcomeTemplate string
	Stagger         time.Duration
	SweepCadence    queue.Cadence
	Cutoff          time.Duration
}

// Engine turns newly ingested contacts into scheduled outbound messages and
// sweeps stale conversations. All side effects run as queue jobs; the
// public Schedule* methods only enqueue.
type Engine struct {
	sched    Scheduler
	store    store.ConversationStore
	client   transport.Transport
	receipts cache.ReceiptCache

	welcomeTemplate string
	stagger         time.Duration
	sweepCadence    queue.Cadence
	cutoff          time.Duration

	now func() time.Time
}

func New(sched Scheduler, st store.ConversationStore, client transport.Transport, opts Options) (*Engine, error) {
	if sched == nil || st == nil || client == nil {
		return nil, errors.New("scheduler, store and transport must not be nil")
	}
	if strings.TrimSpace(opts.WelcomeTemplate) == "" {
		return nil, errors.New("welcome template must not be empty")
	}
	if opts.Stagger < 0 {
		return nil, errors.New("stagger must be >= 0")
	}
	if opts.Cutoff <= 0 {
		return nil, errors.New("cutoff must be > 0")
	}
	return &Engine{
		sched:           sched,
		store:           st,
		client:          client,
		welcomeTemplate: opts.WelcomeTemplate,
		stagger:         opts.Stagger,
		sweepCadence:    opts.SweepCadence,
		cutoff:          opts.Cutoff,
		now:             time.Now,
	}, nil
}

// WithReceiptCache enables best-effort caching of provider message ids
// after each successful send.
func (e *Engine) WithReceiptCache(c cache.ReceiptCache) *Engine {
	e.receipts = c
	return e
}

// ScheduleMessage accepts a single ad hoc message for asynchronous
// delivery. The caller gets no success or failure signal beyond acceptance.
func (e *Engine) ScheduleMessage(contactID int64, content string) {
	e.sched.Enqueue(queue.Job{
		Kind:      KindSendOne,
		ContactID: contactID,
		Run: func(ctx context.Context) queue.Outcome {
			return e.sendMessage(ctx, contactID, content)
		},
	})
}

// ScheduleMessageAt is ScheduleMessage deferred until at. A time in the
// past sends as soon as a worker is free.
func (e *Engine) ScheduleMessageAt(contactID int64, content string, at time.Time) {
	e.sched.Schedule(queue.Job{
		Kind:      KindSendOne,
		ContactID: contactID,
		Run: func(ctx context.Context) queue.Outcome {
			return e.sendMessage(ctx, contactID, content)
		},
	}, at)
}

// ScheduleWelcomeMessages schedules one personalized welcome per contact,
// the i-th at now + i*stagger so a batch never bursts past provider rate
// limits. An empty list is a no-op.
func (e *Engine) ScheduleWelcomeMessages(contactIDs []int64) {
	if len(contactIDs) == 0 {
		return
	}

	now := e.now()
	for i, id := range contactIDs {
		contactID := id
		e.sched.Schedule(queue.Job{
			Kind:      KindSendWelcome,
			ContactID: contactID,
			Run: func(ctx context.Context) queue.Outcome {
				return e.sendWelcome(ctx, contactID)
			},
		}, now.Add(time.Duration(i)*e.stagger))
	}

	slog.Info("welcome messages scheduled", "count", len(contactIDs), "stagger", e.stagger.String())
}

// ScheduleInactiveConversationsCheck registers the recurring inactivity
// sweep. Called once at process startup; calling again replaces the
// cadence.
func (e *Engine) ScheduleInactiveConversationsCheck() error {
	err := e.sched.ScheduleRecurring(RecurringSweepName, e.sweepCadence, queue.Job{
		Kind: KindSweepInactive,
		Run:  e.sweepInactive,
	})
	if err != nil {
		return fmt.Errorf("register inactivity check: %w", err)
	}

	slog.Info("inactivity check registered", "name", RecurringSweepName)
	return nil
}

// sendMessage delivers one message to one contact. A contact that no longer
// resolves is logged and treated as success; transport and store failures
// are handed back to the queue for retry.
func (e *Engine) sendMessage(ctx context.Context, contactID int64, content string) queue.Outcome {
	contact, err := e.store.GetContact(ctx, contactID)
	if errors.Is(err, store.ErrContactNotFound) {
		slog.Warn("contact not found, skipping send", "contact_id", contactID)
		return queue.Success()
	}
	if err != nil {
		return queue.Retryable(fmt.Errorf("load contact %d: %w", contactID, err))
	}

	return e.deliver(ctx, contact, content)
}

// sendWelcome personalizes the welcome template, delivers it, and on
// success moves the contact to processed.
func (e *Engine) sendWelcome(ctx context.Context, contactID int64) queue.Outcome {
	contact, err := e.store.GetContact(ctx, contactID)
	if errors.Is(err, store.ErrContactNotFound) {
		slog.Warn("contact not found, skipping welcome", "contact_id", contactID)
		return queue.Success()
	}
	if err != nil {
		return queue.Retryable(fmt.Errorf("load contact %d: %w", contactID, err))
	}

	personalized := strings.ReplaceAll(e.welcomeTemplate, "{{Name}}", contact.Name)

	if out := e.deliver(ctx, contact, personalized); !out.OK() {
		return out
	}

	if err := e.store.UpdateContactStatus(ctx, contact.ID, model.StatusProcessed, e.now()); err != nil {
		if errors.Is(err, store.ErrContactNotFound) {
			slog.Warn("contact vanished after welcome send", "contact_id", contact.ID)
			return queue.Success()
		}
		return queue.Retryable(fmt.Errorf("mark contact %d processed: %w", contact.ID, err))
	}

	slog.Info("contact processed after welcome", "contact_id", contact.ID)
	return queue.Success()
}

// deliver is the shared send path: transport call, then the outbound record
// append. Each step is its own commit point; a failure after the transport
// call means a retry may send twice, which the at-least-once contract
// accepts.
func (e *Engine) deliver(ctx context.Context, contact *model.Contact, content string) queue.Outcome {
	remoteID, err := e.client.Send(ctx, contact.PhoneNumber, content)
	if errors.Is(err, transport.ErrContentTooLong) {
		return queue.Permanent(fmt.Errorf("send to contact %d: %w", contact.ID, err))
	}
	if err != nil {
		return queue.Retryable(fmt.Errorf("send to contact %d: %w", contact.ID, err))
	}

	sentAt := e.now().UTC()
	msg, err := e.store.AppendMessage(ctx, model.Message{
		ContactID: contact.ID,
		Content:   content,
		Direction: model.DirectionOutbound,
		Status:    model.MessageSent,
		CreatedAt: sentAt,
	})
	if err != nil {
		return queue.Retryable(fmt.Errorf("record message for contact %d: %w", contact.ID, err))
	}

	slog.Info("message sent", "contact_id", contact.ID, "remote_message_id", remoteID)

	if e.receipts != nil {
		if err := e.receipts.StoreReceipt(ctx, contact.ID, msg.ID, remoteID, sentAt); err != nil {
			slog.Warn("receipt cache write failed", "contact_id", contact.ID, "error", err)
		}
	}
	return queue.Success()
}

// sweepInactive scans every conversation with outbound traffic and fails
// the ones still waiting on a reply past the cutoff. Each contact's
// transition commits independently; errors on one contact do not stop the
// pass.
func (e *Engine) sweepInactive(ctx context.Context) queue.Outcome {
	slog.Info("checking for inactive conversations")

	now := e.now()
	cutoffTime := now.Add(-e.cutoff)

	activity, err := e.store.ListOutboundActivity(ctx)
	if err != nil {
		return queue.Retryable(fmt.Errorf("list outbound activity: %w", err))
	}

	var failedCount int
	var errs []error
	for _, a := range activity {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if !e.shouldFail(a, cutoffTime) {
			continue
		}
		if err := e.failConversation(ctx, a.ContactID, now); err != nil {
			errs = append(errs, err)
			continue
		}
		failedCount++
	}

	slog.Info("inactive conversations marked failed", "count", failedCount)

	if len(errs) > 0 {
		// Retrying is safe: contacts already marked are skipped next pass.
		return queue.Retryable(errors.Join(errs...))
	}
	return queue.Success()
}

// shouldFail applies the sweep rule: the conversation is waiting on the
// contact (no inbound, or the latest outbound is newer than the latest
// inbound), the wait exceeds the cutoff, and it has not already been marked
// since that outbound.
func (e *Engine) shouldFail(a store.OutboundActivity, cutoffTime time.Time) bool {
	if a.LastInbound != nil && !a.LastOutbound.After(*a.LastInbound) {
		return false
	}
	if !a.LastOutbound.Before(cutoffTime) {
		return false
	}
	if a.LastSystem != nil && a.LastSystem.After(a.LastOutbound) {
		return false
	}
	return true
}

// failConversation writes the status first and the system message second:
// if the pass dies between the two, the next run still sees the contact as
// unmarked (no fresh system message) and converges instead of skipping it.
func (e *Engine) failConversation(ctx context.Context, contactID int64, at time.Time) error {
	if err := e.store.UpdateContactStatus(ctx, contactID, model.StatusFailed, at); err != nil {
		if errors.Is(err, store.ErrContactNotFound) {
			slog.Warn("contact vanished during sweep", "contact_id", contactID)
			return nil
		}
		return fmt.Errorf("mark contact %d failed: %w", contactID, err)
	}

	_, err := e.store.AppendMessage(ctx, model.Message{
		ContactID: contactID,
		Content:   inactivityNotice,
		Direction: model.DirectionSystem,
		Status:    model.MessageFailed,
		CreatedAt: at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("append timeout notice for contact %d: %w", contactID, err)
	}

	slog.Info("conversation marked failed due to inactivity", "contact_id", contactID)
	return nil
}
