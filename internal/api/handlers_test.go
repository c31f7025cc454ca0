package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LeventeLantos/contact-engage/internal/model"
	"github.com/LeventeLantos/contact-engage/internal/queue"
	"github.com/LeventeLantos/contact-engage/internal/store"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()

	q, err := queue.New(queue.Options{
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  1,
		BackoffBase:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("queue.New() error: %v", err)
	}
	return q
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := NewHandler(newTestQueue(t), store.NewMemoryStore())
	srv := httptest.NewServer(Router(h))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/health")
	if err != nil {
		t.Fatalf("GET /v1/health error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if ok, _ := body["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, got %v", body)
	}
}

func TestQueueStatus(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	q.Schedule(queue.Job{Kind: "later", Run: func(context.Context) queue.Outcome { return queue.Success() }}, time.Now().Add(time.Hour))

	h := NewHandler(q, store.NewMemoryStore())
	srv := httptest.NewServer(Router(h))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/queue/status")
	if err != nil {
		t.Fatalf("GET /v1/queue/status error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got queue.Stats
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Running {
		t.Fatalf("expected running=false, got %+v", got)
	}
	if got.Pending != 1 {
		t.Fatalf("expected pending=1, got %+v", got)
	}
}

func TestQueueFailures(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t)
	q.Enqueue(queue.Job{Kind: "doomed", Run: func(context.Context) queue.Outcome {
		return queue.Permanent(errors.New("nope"))
	}})

	q.Start()
	t.Cleanup(func() { q.Stop() })

	deadline := time.Now().Add(time.Second)
	for len(q.Failures()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected a failure entry")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h := NewHandler(q, store.NewMemoryStore())
	srv := httptest.NewServer(Router(h))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/queue/failures")
	if err != nil {
		t.Fatalf("GET /v1/queue/failures error: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Items []queue.Failure `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) != 1 {
		t.Fatalf("expected one failure, got %+v", body.Items)
	}
	if body.Items[0].Kind != "doomed" || body.Items[0].Reason != "nope" {
		t.Fatalf("unexpected failure entry: %+v", body.Items[0])
	}
}

func TestRecentMessages_DefaultsAndLimit(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	for i := 0; i < 3; i++ {
		if _, err := st.AppendMessage(context.Background(), model.Message{
			ContactID: 1,
			Content:   "m",
			Direction: model.DirectionOutbound,
			Status:    model.MessageSent,
		}); err != nil {
			t.Fatalf("AppendMessage() error: %v", err)
		}
	}

	h := NewHandler(newTestQueue(t), st)
	srv := httptest.NewServer(Router(h))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/messages/recent?limit=2")
	if err != nil {
		t.Fatalf("GET /v1/messages/recent error: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Items []model.Message `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(body.Items))
	}

	// Invalid limit falls back to the default and returns everything.
	resp2, err := http.Get(srv.URL + "/v1/messages/recent?limit=abc")
	if err != nil {
		t.Fatalf("GET with bad limit error: %v", err)
	}
	defer resp2.Body.Close()

	body.Items = nil
	if err := json.NewDecoder(resp2.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(body.Items))
	}
}

func TestRecentMessages_StoreErrorReturns500(t *testing.T) {
	t.Parallel()

	h := NewHandler(newTestQueue(t), &failingStore{err: errors.New("db down")})
	srv := httptest.NewServer(Router(h))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/messages/recent")
	if err != nil {
		t.Fatalf("GET /v1/messages/recent error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestRouterRoot(t *testing.T) {
	t.Parallel()

	h := NewHandler(newTestQueue(t), store.NewMemoryStore())
	srv := httptest.NewServer(Router(h))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET / error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

// failingStore fails every read; writes are never reached in these tests.
type failingStore struct {
	err error
}

func (f *failingStore) GetContact(ctx context.Context, id int64) (*model.Contact, error) {
	return nil, f.err
}

func (f *failingStore) UpdateContactStatus(ctx context.Context, id int64, status model.ContactStatus, at time.Time) error {
	return f.err
}

func (f *failingStore) AppendMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	return model.Message{}, f.err
}

func (f *failingStore) ListOutboundActivity(ctx context.Context) ([]store.OutboundActivity, error) {
	return nil, f.err
}

func (f *failingStore) ListRecentMessages(ctx context.Context, limit int) ([]model.Message, error) {
	return nil, f.err
}
