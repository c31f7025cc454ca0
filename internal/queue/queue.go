package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Outcome is what a job body reports back to the queue. Retry policy is a
// pure function of the outcome: retryable failures are re-scheduled with
// backoff up to the attempt limit, permanent failures go straight to the
// failure log.
type Outcome struct {
	kind outcomeKind
	Err  error
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetryable
	outcomePermanent
)

func Success() Outcome { return Outcome{kind: outcomeSuccess} }

func Retryable(err error) Outcome { return Outcome{kind: outcomeRetryable, Err: err} }

func Permanent(err error) Outcome { return Outcome{kind: outcomePermanent, Err: err} }

// OK reports whether the job body finished without failure.
func (o Outcome) OK() bool { return o.kind == outcomeSuccess }

// ShouldRetry reports whether the failure is worth another attempt.
func (o Outcome) ShouldRetry() bool { return o.kind == outcomeRetryable }

// Job is one unit of deferred work. ContactID is zero when the job is not
// tied to a single contact. Run must tolerate being executed more than once.
type Job struct {
	Kind      string
	ContactID int64
	Run       func(ctx context.Context) Outcome
}

// Failure is an operator-visible record of a job the queue gave up on.
type Failure struct {
	JobID     uuid.UUID `json:"jobId"`
	Kind      string    `json:"kind"`
	ContactID int64     `json:"contactId,omitempty"`
	Attempts  int       `json:"attempts"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Cadence describes when a recurring job fires: either daily at a fixed
// local time, or on a fixed interval.
type Cadence struct {
	daily  bool
	hour   int
	minute int
	every  time.Duration
}

func Daily(hour, minute int) Cadence {
	return Cadence{daily: true, hour: hour, minute: minute}
}

func Every(d time.Duration) Cadence {
	return Cadence{every: d}
}

func (c Cadence) next(after time.Time) time.Time {
	if !c.daily {
		return after.Add(c.every)
	}
	n := time.Date(after.Year(), after.Month(), after.Day(), c.hour, c.minute, 0, 0, after.Location())
	if !n.After(after) {
		n = n.AddDate(0, 0, 1)
	}
	return n
}

func (c Cadence) valid() bool {
	if c.daily {
		return c.hour >= 0 && c.hour <= 23 && c.minute >= 0 && c.minute <= 59
	}
	return c.every > 0
}

type Options struct {
	Workers      int
	PollInterval time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
}

// Queue accepts, delays and dispatches jobs on a fixed worker pool. It is
// the only serialization point: a ready task is handed to exactly one
// worker. Ordering among ready tasks is not guaranteed; a task never starts
// before its runAt.
type Queue struct {
	workers      int
	pollInterval time.Duration
	maxAttempts  int
	backoffBase  time.Duration

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	tasksMu   sync.Mutex
	tasks     []*task
	recurring map[string]*recurringEntry

	inFlight atomic.Int64

	failMu   sync.Mutex
	failures []Failure
}

const failureLogCap = 100

type task struct {
	id      uuid.UUID
	job     Job
	runAt   time.Time
	attempt int

	// release is non-nil for tasks spawned from a recurring entry; called
	// once the task resolves so the next firing may proceed.
	release func()
}

type recurringEntry struct {
	name    string
	cadence Cadence
	job     Job
	nextRun time.Time
	busy    atomic.Bool
}

func New(opts Options) (*Queue, error) {
	if opts.Workers <= 0 {
		return nil, errors.New("workers must be > 0")
	}
	if opts.PollInterval <= 0 {
		return nil, errors.New("poll interval must be > 0")
	}
	if opts.MaxAttempts <= 0 {
		return nil, errors.New("max attempts must be > 0")
	}
	if opts.BackoffBase <= 0 {
		return nil, errors.New("backoff base must be > 0")
	}
	return &Queue{
		workers:      opts.Workers,
		pollInterval: opts.PollInterval,
		maxAttempts:  opts.MaxAttempts,
		backoffBase:  opts.BackoffBase,
		recurring:    make(map[string]*recurringEntry),
		done:         make(chan struct{}),
	}, nil
}

// Enqueue accepts a job for execution as soon as a worker is free. Callers
// get no completion signal; failures surface through retries and the
// failure log.
func (q *Queue) Enqueue(job Job) {
	q.Schedule(job, time.Now())
}

// Schedule accepts a job that becomes dispatchable once at is reached. A
// time in the past behaves like Enqueue.
func (q *Queue) Schedule(job Job, at time.Time) {
	t := &task{
		id:      uuid.New(),
		job:     job,
		runAt:   at,
		attempt: 0,
	}

	q.tasksMu.Lock()
	q.tasks = append(q.tasks, t)
	q.tasksMu.Unlock()

	slog.Info("job scheduled", "job_id", t.id, "kind", job.Kind, "contact_id", job.ContactID, "run_at", at)
}

// ScheduleRecurring registers a named recurring job. Re-registering the
// same name replaces its cadence and body. At most one execution of a given
// name is in flight at any time; a firing that comes due while the previous
// one is still running is skipped, not queued.
func (q *Queue) ScheduleRecurring(name string, cadence Cadence, job Job) error {
	if name == "" {
		return errors.New("recurring job name must not be empty")
	}
	if !cadence.valid() {
		return errors.New("invalid cadence")
	}

	q.tasksMu.Lock()
	defer q.tasksMu.Unlock()

	if e, ok := q.recurring[name]; ok {
		e.cadence = cadence
		e.job = job
		e.nextRun = cadence.next(time.Now())
		slog.Info("recurring job replaced", "name", name, "next_run", e.nextRun)
		return nil
	}

	e := &recurringEntry{
		name:    name,
		cadence: cadence,
		job:     job,
		nextRun: cadence.next(time.Now()),
	}
	q.recurring[name] = e
	slog.Info("recurring job registered", "name", name, "next_run", e.nextRun)
	return nil
}

func (q *Queue) Start() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})
	q.running.Store(true)

	work := make(chan *task)

	go func() {
		defer close(q.done)

		var wg sync.WaitGroup
		for i := 0; i < q.workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-ctx.Done():
						return
					case t := <-work:
						q.execute(ctx, t)
					}
				}
			}()
		}

		ticker := time.NewTicker(q.pollInterval)
		defer ticker.Stop()

		slog.Info("queue started", "workers", q.workers, "poll_interval", q.pollInterval.String())

		q.dispatchReady(ctx, work)
		for {
			select {
			case <-ctx.Done():
				slog.Info("queue stopping")
				wg.Wait()
				return
			case <-ticker.C:
				q.dispatchReady(ctx, work)
			}
		}
	}()

	return true
}

func (q *Queue) Stop() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running.Load() {
		return false
	}

	q.cancel()
	<-q.done
	q.running.Store(false)

	slog.Info("queue stopped")
	return true
}

func (q *Queue) IsRunning() bool {
	return q.running.Load()
}

// Stats is a point-in-time snapshot for the admin surface.
type Stats struct {
	Running   bool  `json:"running"`
	Workers   int   `json:"workers"`
	Pending   int   `json:"pending"`
	Recurring int   `json:"recurring"`
	InFlight  int64 `json:"inFlight"`
	Failures  int   `json:"failures"`
}

func (q *Queue) Snapshot() Stats {
	q.tasksMu.Lock()
	pending := len(q.tasks)
	recurring := len(q.recurring)
	q.tasksMu.Unlock()

	q.failMu.Lock()
	failures := len(q.failures)
	q.failMu.Unlock()

	return Stats{
		Running:   q.running.Load(),
		Workers:   q.workers,
		Pending:   pending,
		Recurring: recurring,
		InFlight:  q.inFlight.Load(),
		Failures:  failures,
	}
}

// Failures returns the most recent entries of the failure log, newest last.
func (q *Queue) Failures() []Failure {
	q.failMu.Lock()
	defer q.failMu.Unlock()

	out := make([]Failure, len(q.failures))
	copy(out, q.failures)
	return out
}

func (q *Queue) dispatchReady(ctx context.Context, work chan<- *task) {
	now := time.Now()

	q.tasksMu.Lock()
	var ready []*task
	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if !t.runAt.After(now) {
			ready = append(ready, t)
		} else {
			kept = append(kept, t)
		}
	}
	q.tasks = kept

	for _, e := range q.recurring {
		if e.nextRun.After(now) {
			continue
		}
		e.nextRun = e.cadence.next(now)
		if !e.busy.CompareAndSwap(false, true) {
			slog.Warn("recurring job still running, firing skipped", "name", e.name)
			continue
		}
		entry := e
		ready = append(ready, &task{
			id:      uuid.New(),
			job:     entry.job,
			runAt:   now,
			release: func() { entry.busy.Store(false) },
		})
	}
	q.tasksMu.Unlock()

	for _, t := range ready {
		select {
		case <-ctx.Done():
			// Put undispatched tasks back so nothing is silently lost.
			q.tasksMu.Lock()
			q.tasks = append(q.tasks, t)
			q.tasksMu.Unlock()
		case work <- t:
		}
	}
}

func (q *Queue) execute(ctx context.Context, t *task) {
	q.inFlight.Add(1)
	defer q.inFlight.Add(-1)

	t.attempt++
	out := q.safeRun(ctx, t)

	switch out.kind {
	case outcomeSuccess:
		slog.Info("job succeeded", "job_id", t.id, "kind", t.job.Kind, "attempt", t.attempt)
		t.resolve()

	case outcomeRetryable:
		if t.attempt >= q.maxAttempts {
			q.recordFailure(t, out.Err)
			t.resolve()
			return
		}
		delay := q.backoffBase * time.Duration(t.attempt)
		t.runAt = time.Now().Add(delay)
		slog.Warn("job failed, will retry",
			"job_id", t.id, "kind", t.job.Kind, "attempt", t.attempt, "retry_in", delay.String(), "error", out.Err)

		q.tasksMu.Lock()
		q.tasks = append(q.tasks, t)
		q.tasksMu.Unlock()

	case outcomePermanent:
		q.recordFailure(t, out.Err)
		t.resolve()
	}
}

func (q *Queue) safeRun(ctx context.Context, t *task) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panic recovered", "job_id", t.id, "kind", t.job.Kind, "panic", r)
			out = Retryable(errors.New("job panicked"))
		}
	}()
	return t.job.Run(ctx)
}

func (t *task) resolve() {
	if t.release != nil {
		t.release()
	}
}

func (q *Queue) recordFailure(t *task, err error) {
	reason := "unknown"
	if err != nil {
		reason = err.Error()
	}

	slog.Error("job dropped",
		"job_id", t.id, "kind", t.job.Kind, "contact_id", t.job.ContactID, "attempts", t.attempt, "error", err)

	q.failMu.Lock()
	defer q.failMu.Unlock()

	q.failures = append(q.failures, Failure{
		JobID:     t.id,
		Kind:      t.job.Kind,
		ContactID: t.job.ContactID,
		Attempts:  t.attempt,
		Reason:    reason,
		At:        time.Now().UTC(),
	})
	if len(q.failures) > failureLogCap {
		q.failures = q.failures[len(q.failures)-failureLogCap:]
	}
}
