package pipeline

import (
	"log/slog"
	"sync"
)

// TaskState is the run state of a Task.
type TaskState int

const (
	TaskStopped TaskState = iota
	TaskStarted
	TaskPaused
)

func (s TaskState) String() string {
	switch s {
	case TaskStarted:
		return "started"
	case TaskPaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Task runs a function repeatedly on its own goroutine, the streaming
// thread of a source or queue. Each iteration runs with lock held, so
// taking lock from another goroutine waits for the current iteration to
// finish.
type Task struct {
	log    *slog.Logger
	fn     func()
	lock   sync.Locker
	status func(StreamStatus)

	mu    sync.Mutex
	cond  *sync.Cond
	state TaskState
	done  chan struct{} // closed when the goroutine exits; nil when none runs
}

// NewTask creates a stopped task. status, if non-nil, is told when the
// goroutine is created, enters and leaves the loop.
func NewTask(name string, lock sync.Locker, fn func(), status func(StreamStatus)) *Task {
	t := &Task{
		log:    slog.With("component", "task", "task", name),
		fn:     fn,
		lock:   lock,
		status: status,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// State returns the current run state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start runs the loop, creating the goroutine if needed or resuming a
// paused one.
func (t *Task) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = TaskStarted
	if t.done == nil {
		t.done = make(chan struct{})
		go t.run(t.done)
	}
	t.cond.Broadcast()
}

// Pause stops the loop after the current iteration without ending the
// goroutine.
func (t *Task) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		t.state = TaskPaused
		return
	}
	if t.state != TaskStopped {
		t.state = TaskPaused
	}
}

// Stop ends the loop after the current iteration. Use Join to wait for the
// goroutine to exit.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = TaskStopped
	t.cond.Broadcast()
}

// Join waits for a stopped task's goroutine to exit. It must not be called
// from the task itself.
func (t *Task) Join() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return
	}
	<-done
	t.mu.Lock()
	if t.done == done {
		t.done = nil
	}
	t.mu.Unlock()
}

func (t *Task) notify(s StreamStatus) {
	if t.status != nil {
		t.status(s)
	}
}

func (t *Task) run(done chan struct{}) {
	defer close(done)
	t.notify(StreamStatusCreate)
	t.notify(StreamStatusEnter)
	t.log.Debug("streaming thread started")
	defer func() {
		t.notify(StreamStatusLeave)
		t.log.Debug("streaming thread stopped")
	}()

	for {
		t.mu.Lock()
		for t.state == TaskPaused {
			t.cond.Wait()
		}
		if t.state == TaskStopped {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		t.lock.Lock()
		t.fn()
		t.lock.Unlock()
	}
}
