package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

type countingTask struct {
	name    string
	tick    time.Duration
	timeout time.Duration
	runs    atomic.Int32
	err     error
	block   time.Duration
}

func (t *countingTask) Run(ctx context.Context) error {
	t.runs.Add(1)
	if t.block > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.block):
		}
	}
	return t.err
}

func (t *countingTask) Tick() time.Duration       { return t.tick }
func (t *countingTask) Name() string              { return t.name }
func (t *countingTask) RunTimeout() time.Duration { return t.timeout }

func TestScheduler_RunsImmediatelyAndOnTick(t *testing.T) {
	task := &countingTask{name: "fast", tick: 20 * time.Millisecond}

	s := New(context.Background(), clockwork.NewRealClock())
	s.AddTask(task)
	s.Start()

	time.Sleep(70 * time.Millisecond)
	s.Stop()

	// One immediate run plus at least two ticks
	assert.GreaterOrEqual(t, task.runs.Load(), int32(3))
}

func TestScheduler_FailingTaskKeepsRunning(t *testing.T) {
	task := &countingTask{name: "flaky", tick: 20 * time.Millisecond, err: errors.New("boom")}

	s := New(context.Background(), clockwork.NewRealClock())
	s.AddTask(task)
	s.Start()

	time.Sleep(70 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, task.runs.Load(), int32(2), "failures must not stop the schedule")
}

func TestScheduler_SlowTaskDoesNotStarveOthers(t *testing.T) {
	slow := &countingTask{name: "slow", tick: time.Hour, block: 10 * time.Second}
	fast := &countingTask{name: "fast", tick: 20 * time.Millisecond}

	s := New(context.Background(), clockwork.NewRealClock())
	s.AddTask(slow)
	s.AddTask(fast)
	s.Start()

	time.Sleep(70 * time.Millisecond)

	assert.GreaterOrEqual(t, fast.runs.Load(), int32(2),
		"a blocked task must not delay other tasks")

	s.Stop()
}

func TestScheduler_RunTimeoutCancelsRun(t *testing.T) {
	task := &countingTask{
		name:    "hung",
		tick:    time.Hour,
		timeout: 20 * time.Millisecond,
		block:   10 * time.Second,
	}

	s := New(context.Background(), clockwork.NewRealClock())
	s.AddTask(task)
	s.Start()

	// Stop returns promptly because the run's context timed out, proving a
	// hung run cannot block shutdown for its full duration
	done := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop while a run was hung")
	}
	assert.EqualValues(t, 1, task.runs.Load())
}

func TestScheduler_StopWaitsForTasks(t *testing.T) {
	task := &countingTask{name: "quick", tick: time.Hour}

	s := New(context.Background(), clockwork.NewRealClock())
	s.AddTask(task)
	s.Start()
	s.Stop()

	runs := task.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, runs, task.runs.Load(), "no runs may start after Stop returns")
}
