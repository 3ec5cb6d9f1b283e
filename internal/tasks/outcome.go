package tasks

import (
	"fmt"
	"time"
)

type outcomeKind uint8

const (
	kindContinue outcomeKind = iota
	kindRetry
	kindStop
)

// Outcome tells the runtime when a task runs next.
type Outcome struct {
	kind  outcomeKind
	delay time.Duration
}

var (
	// Continue runs the task again after its regular period.
	Continue = Outcome{kind: kindContinue}
	// Stop ends the task.
	Stop = Outcome{kind: kindStop}
)

// Retry runs the task again after d instead of its regular period.
func Retry(d time.Duration) Outcome {
	return Outcome{kind: kindRetry, delay: d}
}

func (o Outcome) String() string {
	switch o.kind {
	case kindContinue:
		return "continue"
	case kindRetry:
		return "retry"
	case kindStop:
		return "stop"
	default:
		return fmt.Sprintf("outcome(%d)", o.kind)
	}
}

// next returns the wait before the next run, or false if the task ends.
func (o Outcome) next(period time.Duration) (time.Duration, bool) {
	switch o.kind {
	case kindStop:
		return 0, false
	case kindRetry:
		if o.delay <= 0 {
			return period, period > 0
		}
		return o.delay, true
	default:
		return period, period > 0
	}
}

// PanicError is a task run that panicked.
type PanicError struct {
	Task  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value)
}
