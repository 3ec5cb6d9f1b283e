// Package tasks runs the node's periodic maintenance work.
package tasks

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Klingon-tech/lnsync/internal/log"
	"github.com/Klingon-tech/lnsync/internal/metrics"
)

// DefaultBlocking is the default size of the blocking pool.
const DefaultBlocking = 4

// ErrRuntimeClosed is returned by Blocking after Close.
var ErrRuntimeClosed = errors.New("task runtime closed")

// Func is one run of a task.
type Func func(ctx context.Context) Outcome

// Runtime runs tasks in their own goroutines and bounds blocking work.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	pool   *semaphore.Weighted
	live   atomic.Int64

	metrics *metrics.Metrics
}

// NewRuntime creates a runtime whose blocking pool admits n calls at once.
func NewRuntime(n int64) *Runtime {
	if n < 1 {
		n = DefaultBlocking
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		ctx:    ctx,
		cancel: cancel,
		pool:   semaphore.NewWeighted(n),
	}
}

// SetMetrics attaches a metrics sink.
func (r *Runtime) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Live returns the number of task goroutines that have not exited.
func (r *Runtime) Live() int {
	return int(r.live.Load())
}

// Spawn starts fn immediately and keeps running it until it returns Stop,
// its handle is shut down, or the runtime closes. After Continue the next
// run waits period; a zero period makes Continue end the task. A panicking
// run is logged and treated as Continue.
func (r *Runtime) Spawn(name string, period time.Duration, fn Func) *Handle {
	h := newHandle(name)
	r.wg.Add(1)
	r.live.Add(1)
	go func() {
		defer close(h.done)
		defer r.wg.Done()
		defer r.live.Add(-1)
		r.loop(h, period, fn)
	}()
	return h
}

func (r *Runtime) loop(h *Handle, period time.Duration, fn Func) {
	logger := log.WithTask(h.name)
	for {
		if h.stopping() || r.ctx.Err() != nil {
			return
		}

		outcome, err := r.run(h.name, fn)
		if err != nil {
			logger.Error().Err(err).Bytes("stack", err.Stack).Msg("Task panicked")
			r.metrics.TaskPanic(h.name)
			outcome = Continue
		}
		r.metrics.TaskRun(h.name, outcome.String())

		wait, again := outcome.next(period)
		if !again {
			logger.Debug().Msg("Task finished")
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-h.stop:
			timer.Stop()
			return
		case <-r.ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (r *Runtime) run(name string, fn Func) (outcome Outcome, perr *PanicError) {
	defer func() {
		if v := recover(); v != nil {
			perr = &PanicError{Task: name, Value: v, Stack: debug.Stack()}
		}
	}()
	return fn(r.ctx), nil
}

// Blocking runs fn once a pool slot is free. A panic in fn is returned as
// a *PanicError.
func (r *Runtime) Blocking(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	if r.ctx.Err() != nil {
		return ErrRuntimeClosed
	}
	if err := r.pool.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.pool.Release(1)
	defer func() {
		if v := recover(); v != nil {
			r.metrics.TaskPanic(name)
			err = &PanicError{Task: name, Value: v, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// Close cancels the context handed to running work and waits for every
// task to exit.
func (r *Runtime) Close() {
	r.cancel()
	r.wg.Wait()
}

// Handle controls one spawned task.
type Handle struct {
	name string
	stop chan struct{}
	once sync.Once
	done chan struct{}
}

func newHandle(name string) *Handle {
	return &Handle{
		name: name,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Name returns the task name.
func (h *Handle) Name() string { return h.name }

// RequestShutdown asks the task to exit after its current run. It does not
// block and may be called any number of times.
func (h *Handle) RequestShutdown() {
	h.once.Do(func() { close(h.stop) })
}

func (h *Handle) stopping() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// Join blocks until the task has exited.
func (h *Handle) Join() {
	<-h.done
}

// Shutdown requests shutdown and waits for the task to exit.
func (h *Handle) Shutdown() {
	h.RequestShutdown()
	h.Join()
}

// Done is closed when the task exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
