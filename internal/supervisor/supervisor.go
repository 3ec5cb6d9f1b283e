// Package supervisor keeps the engine's background event loop running.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Klingon-tech/lnsync/internal/log"
	"github.com/Klingon-tech/lnsync/internal/metrics"
)

// EventLoop is the engine's long-running background processor. Run
// returns nil when it finished cleanly and should not be restarted.
type EventLoop interface {
	Run(ctx context.Context) error
}

// EventLoopFunc adapts a function to EventLoop.
type EventLoopFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f EventLoopFunc) Run(ctx context.Context) error { return f(ctx) }

// PanicError is returned for a Run call that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("event loop panicked: %v", e.Value)
}

// Supervisor restarts an EventLoop each time it fails.
type Supervisor struct {
	loop     EventLoop
	shutdown atomic.Bool
	restarts atomic.Int64

	cancel  context.CancelFunc
	done    chan struct{}
	result  error
	stopped sync.Once

	metrics *metrics.Metrics
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// Start launches loop in a new goroutine and returns its supervisor.
func Start(loop EventLoop, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		loop:   loop,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.supervise(ctx)
	return s
}

func (s *Supervisor) supervise(ctx context.Context) {
	defer close(s.done)
	for {
		if s.shutdown.Load() {
			return
		}
		err := s.runOnce(ctx)
		if s.shutdown.Load() && errors.Is(err, context.Canceled) {
			err = nil
		}
		s.result = err
		if err == nil {
			log.Supervisor.Info().Msg("Background processor exited")
			return
		}
		if s.shutdown.Load() {
			// Failing while being stopped is the final result, not a crash.
			return
		}
		n := s.restarts.Add(1)
		s.metrics.SupervisorRestart()
		log.Supervisor.Error().Err(err).Int64("restarts", n).Msg("Background processor failed, restarting")
	}
}

func (s *Supervisor) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return s.loop.Run(ctx)
}

// Restarts returns how many times the loop was restarted after a failure.
func (s *Supervisor) Restarts() int64 {
	return s.restarts.Load()
}

// Done is closed once the supervising goroutine exits.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Stop requests shutdown, cancels the running loop, waits for it to exit
// and returns the loop's final result. Calling Stop again returns the
// same result.
func (s *Supervisor) Stop() error {
	s.stopped.Do(func() {
		s.shutdown.Store(true)
		s.cancel()
	})
	<-s.done
	return s.result
}
