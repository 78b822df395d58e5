package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	taskPending int32 = iota
	taskRunning
	taskCancelled
	taskDone
)

// Task is a handle to a deferred dispatch.
type Task struct {
	id    uint64
	due   time.Time
	state atomic.Int32
	timer *time.Timer
	sched *Scheduler
	done  chan struct{}
}

// Cancel stops the task if it has not started. It reports whether the
// task was cancelled by this call.
func (t *Task) Cancel() bool {
	if t == nil || !t.state.CompareAndSwap(taskPending, taskCancelled) {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.sched.finish(t)
	return true
}

// Due returns when the task is scheduled to run.
func (t *Task) Due() time.Time {
	return t.due
}

// Done is closed once the task has run or been cancelled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancelled reports whether the task was cancelled before it ran.
func (t *Task) Cancelled() bool {
	return t.state.Load() == taskCancelled
}

// Scheduler runs dispatch work off the caller's goroutine. Deferred tasks
// live only in memory and are dropped by Stop.
type Scheduler struct {
	ctx context.Context

	mu      sync.Mutex
	pending map[uint64]*Task
	nextID  uint64
	stopped bool
	wg      sync.WaitGroup

	// OnPending, when set, observes changes in the number of deferred tasks.
	OnPending func(delta float64)
}

// NewScheduler creates a scheduler whose tasks run with ctx.
func NewScheduler(ctx context.Context) *Scheduler {
	return &Scheduler{
		ctx:     ctx,
		pending: make(map[uint64]*Task),
	}
}

// Run executes fn on a new goroutine. It is a no-op after Stop.
func (s *Scheduler) Run(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
	return true
}

// After schedules fn to run once d has elapsed. After Stop the returned
// task is already cancelled.
func (s *Scheduler) After(d time.Duration, fn func(ctx context.Context)) *Task {
	t := &Task{sched: s, due: time.Now().Add(d), done: make(chan struct{})}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		t.state.Store(taskCancelled)
		close(t.done)
		return t
	}
	s.nextID++
	t.id = s.nextID
	s.pending[t.id] = t
	s.wg.Add(1)
	t.timer = time.AfterFunc(d, func() {
		if !t.state.CompareAndSwap(taskPending, taskRunning) {
			return
		}
		fn(s.ctx)
		t.state.Store(taskDone)
		s.finish(t)
	})
	s.mu.Unlock()

	if s.OnPending != nil {
		s.OnPending(1)
	}
	return t
}

func (s *Scheduler) finish(t *Task) {
	s.mu.Lock()
	delete(s.pending, t.id)
	s.mu.Unlock()

	close(t.done)
	s.wg.Done()
	if s.OnPending != nil {
		s.OnPending(-1)
	}
}

// Pending returns the number of deferred tasks not yet run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop rejects new work and cancels every pending deferred task. Tasks
// already running are left to finish; use Wait to drain them.
func (s *Scheduler) Stop() int {
	s.mu.Lock()
	s.stopped = true
	tasks := make([]*Task, 0, len(s.pending))
	for _, t := range s.pending {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	n := 0
	for _, t := range tasks {
		if t.Cancel() {
			n++
		}
	}
	return n
}

// Wait blocks until all running and pending tasks have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
