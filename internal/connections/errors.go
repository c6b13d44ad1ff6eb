package connections

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionClosed   = errors.New("connection is closed")
	ErrBufferFull         = errors.New("connection send buffer is full")
	ErrAlreadyBound       = errors.New("connection is already bound to another session")
	ErrCapacityExceeded   = errors.New("connection capacity exceeded")
	ErrShuttingDown       = errors.New("connection manager is shutting down")
)

// TransitionError reports an illegal state change.
type TransitionError struct {
	ConnectionID string
	From         State
	To           State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("connection %s cannot move from %s to %s", e.ConnectionID, e.From, e.To)
}
