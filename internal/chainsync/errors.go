package chainsync

import (
	"errors"
	"fmt"
)

// ErrReorgRace is returned when the remote tip is no longer in the remote's
// best chain by the time its header is fetched. Call Sync again.
var ErrReorgRace = errors.New("tip left the best chain during sync")

// TransportError is a failed call to the block source.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("block source %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// transport wraps err unless it already is a TransportError.
func transport(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
