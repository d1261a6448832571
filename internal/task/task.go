// Package task runs queries in the background so that HTTP requests can
// return before a long query finishes and clients can collect the result
// with long polling.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/koustreak/sqlexplorer/internal/errs"
	"github.com/koustreak/sqlexplorer/internal/logger"
)

// MsgNotExists is returned for unknown, collected or cancelled tasks.
const MsgNotExists = "task not exists"

// Config bounds the manager.
type Config struct {
	// MaxRunning caps the number of tasks executing at once. Further
	// tasks wait for a slot.
	MaxRunning int64

	// WaitTimeout is the long-poll window used when Wait is given zero.
	WaitTimeout time.Duration

	// ResultTTL is how long a finished but uncollected task is kept.
	ResultTTL time.Duration
}

// DefaultConfig keeps the long-poll window just under two minutes.
func DefaultConfig() *Config {
	return &Config{
		MaxRunning:  16,
		WaitTimeout: 118 * time.Second,
		ResultTTL:   30 * time.Minute,
	}
}

// Func is the work of one task. ctx is cancelled by Cancel and Close.
type Func[T any] func(ctx context.Context) (T, error)

type entry[T any] struct {
	cancel   context.CancelFunc
	done     chan struct{}
	value    T
	err      error
	finished time.Time
}

// Manager owns running and finished tasks. It is safe for concurrent use.
type Manager[T any] struct {
	cfg Config
	sem *semaphore.Weighted
	log *logger.Logger
	now func() time.Time

	mu    sync.Mutex
	tasks map[string]*entry[T]
	wg    sync.WaitGroup
}

// New creates a Manager.
func New[T any](cfg *Config, log *logger.Logger) *Manager[T] {
	c := *cfg
	if c.MaxRunning <= 0 {
		c.MaxRunning = 1
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = DefaultConfig().WaitTimeout
	}
	return &Manager[T]{
		cfg:   c,
		sem:   semaphore.NewWeighted(c.MaxRunning),
		log:   logger.OrNop(log).Component("task"),
		now:   time.Now,
		tasks: make(map[string]*entry[T]),
	}
}

// Submit starts fn in the background and returns its id.
func (m *Manager[T]) Submit(fn Func[T]) string {
	m.purge()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry[T]{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.tasks[id] = e
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		start := m.now()
		var value T
		err := m.sem.Acquire(ctx, 1)
		if err == nil {
			value, err = fn(ctx)
			m.sem.Release(1)
		}
		if ctx.Err() != nil && err != nil {
			err = errs.FromContext(ctx.Err())
		}

		m.mu.Lock()
		e.value, e.err = value, err
		e.finished = m.now()
		m.mu.Unlock()
		close(e.done)

		m.log.DebugWith("task finished", map[string]any{
			"task_id": id,
			"elapsed": e.finished.Sub(start).String(),
			"failed":  err != nil,
		})
	}()

	return id
}

// Wait blocks until task id finishes, timeout passes or ctx is done.
// done reports whether the task finished; a finished task is forgotten
// once returned. Zero timeout uses the configured window.
func (m *Manager[T]) Wait(ctx context.Context, id string, timeout time.Duration) (value T, done bool, err error) {
	m.purge()

	m.mu.Lock()
	e, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return value, false, errs.New(errs.ErrKindNotFound, MsgNotExists)
	}

	if timeout <= 0 {
		timeout = m.cfg.WaitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.done:
	case <-timer.C:
		return value, false, nil
	case <-ctx.Done():
		return value, false, errs.FromContext(ctx.Err())
	}

	m.mu.Lock()
	// a concurrent Wait may have collected it first
	if m.tasks[id] != e {
		m.mu.Unlock()
		return value, false, errs.New(errs.ErrKindNotFound, MsgNotExists)
	}
	delete(m.tasks, id)
	m.mu.Unlock()

	return e.value, true, e.err
}

// Cancel stops task id and forgets it. It reports whether the task
// existed.
func (m *Manager[T]) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.tasks[id]
	delete(m.tasks, id)
	m.mu.Unlock()

	if ok {
		e.cancel()
		m.log.DebugWith("task cancelled", map[string]any{"task_id": id})
	}
	return ok
}

// Len returns the number of tasks not yet collected.
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// purge drops finished tasks nobody collected within ResultTTL.
func (m *Manager[T]) purge() {
	if m.cfg.ResultTTL <= 0 {
		return
	}
	cutoff := m.now().Add(-m.cfg.ResultTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.tasks {
		if !e.finished.IsZero() && e.finished.Before(cutoff) {
			delete(m.tasks, id)
		}
	}
}

// Close cancels every task and waits for their goroutines to return.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	for id, e := range m.tasks {
		e.cancel()
		delete(m.tasks, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
