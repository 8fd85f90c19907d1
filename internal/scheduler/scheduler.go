// Package scheduler registers at most one job per mission and fires it on
// either a recurring cron trigger or a one-shot date trigger, through a
// bounded worker pool.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fleetops/missionctl/internal/domain"
	"github.com/fleetops/missionctl/internal/logging"
)

// Outcome is the result a completed job reports to its listeners.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeError    Outcome = "error"
)

// Listener is notified whenever any job finishes firing.
type Listener func(jobID string, outcome Outcome)

// Job is one mission's run body. A returned error is logged and reported
// to listeners as OutcomeError; the scheduler itself never retries a job.
type Job func(ctx context.Context) error

const defaultWorkerPoolSize = 20

// Scheduler owns at most one entry per job ID (mission name), collapsing
// overlapping fires of the same job.
type Scheduler struct {
	cron *cron.Cron
	sem  chan struct{}

	mu      sync.Mutex
	entries map[string]cron.EntryID
	timers  map[string]*time.Timer
	running map[string]bool

	listenersMu sync.RWMutex
	listeners   []Listener
}

// New builds a Scheduler with the default bounded worker pool size.
func New() *Scheduler {
	return NewWithWorkers(defaultWorkerPoolSize)
}

// NewWithWorkers builds a Scheduler whose worker pool holds workers slots;
// workers <= 0 falls back to the default.
func NewWithWorkers(workers int) *Scheduler {
	if workers <= 0 {
		workers = defaultWorkerPoolSize
	}
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		sem:     make(chan struct{}, workers),
		entries: make(map[string]cron.EntryID),
		timers:  make(map[string]*time.Timer),
		running: make(map[string]bool),
	}
}

// Start begins firing registered cron entries. Date and fire-now jobs run
// independently of this call.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts future cron fires and waits for any cron callback already
// dispatching a job to return. Job bodies already handed to the worker
// pool, and pending date timers, are not waited for or cancelled.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// AddListener registers a callback invoked after every job fire completes.
func (s *Scheduler) AddListener(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Scheduler) notify(jobID string, outcome Outcome) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, l := range s.listeners {
		l(jobID, outcome)
	}
}

// AddCron registers (replacing any existing entry for jobID) a recurring
// job built from the mission's calendar fields.
func (s *Scheduler) AddCron(jobID string, spec domain.CronSpec, job Job) error {
	s.Remove(jobID)

	expr := cronExpr(spec)
	entryID, err := s.cron.AddFunc(expr, windowGate(spec, func() { s.run(jobID, job) }))
	if err != nil {
		return fmt.Errorf("register cron job %s: %w", jobID, err)
	}

	s.mu.Lock()
	s.entries[jobID] = entryID
	s.mu.Unlock()
	return nil
}

// AddDate registers a one-shot job for jobID firing once at runAt, or
// immediately if runAt is the zero time.
func (s *Scheduler) AddDate(jobID string, runAt time.Time, job Job) {
	s.Remove(jobID)

	if runAt.IsZero() {
		s.run(jobID, job)
		return
	}

	delay := time.Until(runAt)
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() { s.run(jobID, job) })

	s.mu.Lock()
	s.timers[jobID] = timer
	s.mu.Unlock()
}

// FireNow submits an immediate, unregistered run of job under jobID — used
// by the event trigger router when an incoming event matches a mission's
// {source, event} schedule.
func (s *Scheduler) FireNow(jobID string, job Job) {
	s.run(jobID, job)
}

// NextRun returns the next scheduled fire time for jobID's cron entry, if
// it has one. Date and event-triggered jobs have no cron entry and always
// report ok=false.
func (s *Scheduler) NextRun(jobID string) (time.Time, bool) {
	s.mu.Lock()
	entryID, ok := s.entries[jobID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(entryID)
	if entry.ID == 0 {
		return time.Time{}, false
	}
	return entry.Next, true
}

// Remove cancels whatever entry (cron or pending date timer) is registered
// for jobID. A job already running is unaffected.
func (s *Scheduler) Remove(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, jobID)
	}
	if timer, ok := s.timers[jobID]; ok {
		timer.Stop()
		delete(s.timers, jobID)
	}
}

// run executes job on the bounded worker pool. Concurrent fires of the
// same job ID are collapsed (max_instances=1): a fire arriving while the
// previous one is still running is dropped, not queued.
func (s *Scheduler) run(jobID string, job Job) {
	s.mu.Lock()
	if s.running[jobID] {
		s.mu.Unlock()
		logging.Op().Warn("dropping overlapping fire", "job", jobID)
		return
	}
	s.running[jobID] = true
	s.mu.Unlock()

	// Acquiring the pool slot inside the goroutine, rather than on the
	// caller, keeps this call non-blocking even when the pool is
	// saturated. Callers on the scheduler's own cron goroutine or the
	// trigger router's single dispatch thread must never block here.
	go func() {
		s.sem <- struct{}{}
		defer func() {
			<-s.sem
			s.mu.Lock()
			delete(s.running, jobID)
			s.mu.Unlock()
		}()

		outcome := OutcomeExecuted
		if err := job(context.Background()); err != nil {
			logging.Op().Error("job failed", "job", jobID, "error", err)
			outcome = OutcomeError
		}
		s.notify(jobID, outcome)
	}()
}

// cronExpr renders the six robfig/cron fields this scheduler parses with
// (second minute hour dom month dow) from a mission's calendar fields.
// Year and week have no standard cron field; they are enforced instead by
// windowGate at fire time.
func cronExpr(spec domain.CronSpec) string {
	field := func(v string) string {
		if v == "" {
			return "*"
		}
		return v
	}
	return fmt.Sprintf("%s %s %s %s %s %s",
		field(spec.Second), field(spec.Minute), field(spec.Hour),
		field(spec.Day), field(spec.Month), field(spec.DayOfWeek),
	)
}

// windowGate wraps fn so it only fires when now falls within spec's
// StartDate/EndDate bounds and, if Year or Week is a literal integer,
// matches the current year or ISO week number. Non-literal Year/Week
// expressions (such as "*/2") are not enforced.
func windowGate(spec domain.CronSpec, fn func()) func() {
	return func() {
		now := time.Now()
		if spec.StartDate != nil && now.Before(*spec.StartDate) {
			return
		}
		if spec.EndDate != nil && now.After(*spec.EndDate) {
			return
		}
		if year, err := strconv.Atoi(spec.Year); err == nil && year != now.Year() {
			return
		}
		if week, err := strconv.Atoi(spec.Week); err == nil {
			if _, isoWeek := now.ISOWeek(); isoWeek != week {
				return
			}
		}
		fn()
	}
}
