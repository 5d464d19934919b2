// Package scheduler owns the recurring timers of the engine. Timers fire on
// cron expressions and hand work to a bounded pool of firing goroutines; a
// failed firing is logged and never removes its timer.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lead_lifecycle_engine/platform/apperr"
	"lead_lifecycle_engine/platform/cronspec"
	"lead_lifecycle_engine/platform/logger"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"
)

// FireFunc is invoked on every activation of a registered timer.
type FireFunc func(ctx context.Context, firedAt time.Time) error

// Entry describes one registered timer.
type Entry struct {
	ID         string    `json:"id"`
	Expression string    `json:"expression"`
	Next       time.Time `json:"nextRun"`
}

type registration struct {
	entryID    cron.EntryID
	expression string
	schedule   cron.Schedule
	fn         FireFunc
}

// Options tune the scheduler. Zero values fall back to defaults.
type Options struct {
	Workers  int
	Location *time.Location
	Now      func() time.Time
}

// Scheduler maps ids to cron timers.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]registration
	sem     *semaphore.Weighted
	loc     *time.Location
	now     func() time.Time
	log     *logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
	started bool
	stopped bool
}

func New(log *logger.Logger, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(opts.Location)),
		entries: make(map[string]registration),
		sem:     semaphore.NewWeighted(int64(opts.Workers)),
		loc:     opts.Location,
		now:     opts.Now,
		log:     log.WithComponent("scheduler"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register installs a timer for id, replacing any timer already registered
// under the same id. Invalid expressions are rejected before anything changes.
func (s *Scheduler) Register(id, expression string, fn FireFunc) error {
	if id == "" {
		return apperr.Validation("schedule id is required")
	}
	if fn == nil {
		return apperr.Validation("schedule callback is required").WithDetail("scheduleId", id)
	}
	schedule, err := cronspec.Parse(expression)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid schedule expression", err).WithDetail("scheduleId", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return apperr.Conflict("scheduler is shut down").WithDetail("scheduleId", id)
	}

	if prev, ok := s.entries[id]; ok {
		s.cron.Remove(prev.entryID)
	}
	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(id, fn) }))
	s.entries[id] = registration{entryID: entryID, expression: expression, schedule: schedule, fn: fn}
	s.log.Debug("schedule registered", "schedule_id", id, "expression", expression)
	return nil
}

// Unregister removes the timer for id. A firing already in flight completes.
func (s *Scheduler) Unregister(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.entries[id]
	if !ok {
		return false
	}
	s.cron.Remove(reg.entryID)
	delete(s.entries, id)
	s.log.Debug("schedule unregistered", "schedule_id", id)
	return true
}

// RunNow invokes the callback of id once, outside its schedule, and returns
// the firing error to the caller.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	reg, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return apperr.NotFound("schedule not registered").WithDetail("scheduleId", id)
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	return s.invoke(ctx, id, reg.fn)
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.cron.Start()
}

// Shutdown stops every timer and waits for in-flight firings until ctx ends.
// It is safe to call more than once.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for id, reg := range s.entries {
		s.cron.Remove(reg.entryID)
		delete(s.entries, id)
	}
	stopCtx := s.cron.Stop()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// ActiveCount reports the number of registered timers.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cron.Entries())
}

// NextRun reports the next activation of id.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return s.nextLocked(reg), true
}

// Entries lists registered timers ordered by id.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for id, reg := range s.entries {
		out = append(out, Entry{ID: id, Expression: reg.expression, Next: s.nextLocked(reg)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) nextLocked(reg registration) time.Time {
	if e := s.cron.Entry(reg.entryID); e.Valid() && !e.Next.IsZero() {
		return e.Next
	}
	return reg.schedule.Next(s.now().In(s.loc))
}

func (s *Scheduler) fire(id string, fn FireFunc) {
	s.running.Add(1)
	defer s.running.Done()

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	if err := s.invoke(s.ctx, id, fn); err != nil {
		s.log.SchedulerFiringFailed(id, err)
	}
}

func (s *Scheduler) invoke(ctx context.Context, id string, fn FireFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("firing %s panicked: %v", id, r)
		}
	}()
	return fn(ctx, s.now().In(s.loc))
}
