package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Task is one periodically executed unit of work. Tick is the coarse polling
// interval; tasks that refresh on configurable schedules decide inside Run
// whether work is actually due, so admin config changes take effect without
// restarting the scheduler.
type Task interface {
	Run(ctx context.Context) error
	Tick() time.Duration
	Name() string
	// RunTimeout bounds a single run; a run exceeding it is cancelled and
	// treated as a failure
	RunTimeout() time.Duration
}

// Scheduler runs each task on its own goroutine so a slow run of one task
// never starves the others
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	clock  clockwork.Clock
	tasks  []Task
	wg     sync.WaitGroup
}

// New creates a task scheduler
func New(ctx context.Context, clock clockwork.Clock) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		clock:  clock,
		tasks:  make([]Task, 0),
	}
}

// AddTask registers a task. Must be called before Start.
func (s *Scheduler) AddTask(task Task) {
	s.tasks = append(s.tasks, task)
}

// Start begins running all registered tasks
func (s *Scheduler) Start() {
	slog.Info("Starting task scheduler")
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(task)
	}
	slog.Info("Task scheduler started", "task_count", len(s.tasks))
}

// Stop cancels all tasks and waits for their current runs to finish
func (s *Scheduler) Stop() {
	slog.Info("Stopping task scheduler")
	s.cancel()
	s.wg.Wait()
	slog.Info("Task scheduler stopped")
}

func (s *Scheduler) runTask(task Task) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(task.Tick())
	defer ticker.Stop()

	// Run once immediately on start
	s.runOnce(task)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.Chan():
			s.runOnce(task)
		}
	}
}

// runOnce executes the task with its run timeout applied. Failures and
// timeouts are logged and the schedule continues on the next tick.
func (s *Scheduler) runOnce(task Task) {
	ctx := s.ctx
	if timeout := task.RunTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := task.Run(ctx); err != nil {
		if s.ctx.Err() != nil {
			return // shutting down
		}
		slog.Error("Error running task", "task", task.Name(), "error", err)
	}
}
