// Package scheduler runs the periodic RCON poll tasks that feed the
// state services.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownTask = errors.New("scheduler: unknown task")
	ErrTaskRunning = errors.New("scheduler: task already running")
)

// TaskFunc is one scheduled unit of work. A returned error is recorded
// in the task stats and never propagates to peer tasks.
type TaskFunc func(ctx context.Context) error

// TaskStats is a snapshot of one task's run history.
type TaskStats struct {
	LastRun   time.Time
	LastError string
	Runs      uint64
	Errors    uint64
	Skipped   uint64
	IsRunning bool
}

type task struct {
	name     string
	interval time.Duration
	execute  TaskFunc
	enabled  bool

	mu    sync.Mutex
	stats TaskStats
}

// tryStart claims the task for one run. Returns false when the previous
// run is still in progress; that firing is skipped, not queued.
func (t *task) tryStart() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stats.IsRunning {
		t.stats.Skipped++
		return false
	}
	t.stats.IsRunning = true
	return true
}

func (t *task) finish(started time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.IsRunning = false
	t.stats.LastRun = started
	t.stats.Runs++
	if err != nil {
		t.stats.Errors++
		t.stats.LastError = err.Error()
	} else {
		t.stats.LastError = ""
	}
}

// Scheduler owns a set of named interval tasks. Each enabled task runs
// once at start and then on its own ticker; a slow run never stacks.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*task
	order []string

	logger  zerolog.Logger
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]*task),
		logger: log.With().Str("component", "Scheduler").Logger(),
	}
}

// Register adds a task. Registering after StartAll is a no-op for the
// running cycle; tasks are expected to be registered up front.
func (s *Scheduler) Register(name string, interval time.Duration, enabled bool, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; !ok {
		s.order = append(s.order, name)
	}
	s.tasks[name] = &task{name: name, interval: interval, execute: fn, enabled: enabled}
}

// StartAll runs every enabled task immediately, then on its interval,
// until Stop.
func (s *Scheduler) StartAll(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	for _, name := range names {
		t := s.taskByName(name)
		if t == nil || !t.enabled {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer s.wg.Done()

	s.runTask(ctx, t)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTask(ctx, t)
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, t *task) {
	if !t.tryStart() {
		s.logger.Warn().Str("task", t.name).Msg("Previous run still in progress, skipping")
		return
	}
	started := time.Now()
	err := t.execute(ctx)
	t.finish(started, err)
	if err != nil {
		s.logger.Error().Err(err).Str("task", t.name).Msg("Task failed")
	}
}

// RunNow invokes a task outside its schedule, with the same overlap
// rule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	t := s.taskByName(name)
	if t == nil {
		return ErrUnknownTask
	}
	if !t.tryStart() {
		return ErrTaskRunning
	}
	started := time.Now()
	err := t.execute(ctx)
	t.finish(started, err)
	return err
}

// Stop cancels all task loops and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.started = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Stats returns a snapshot of one task's counters.
func (s *Scheduler) Stats(name string) (TaskStats, error) {
	t := s.taskByName(name)
	if t == nil {
		return TaskStats{}, ErrUnknownTask
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats, nil
}

// AllStats returns every task's counters keyed by name.
func (s *Scheduler) AllStats() map[string]TaskStats {
	s.mu.Lock()
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	out := make(map[string]TaskStats, len(names))
	for _, name := range names {
		if stats, err := s.Stats(name); err == nil {
			out[name] = stats
		}
	}
	return out
}

func (s *Scheduler) taskByName(name string) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[name]
}
