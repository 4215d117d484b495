package bridge

import (
	"errors"
	"fmt"

	"github.com/AnishMulay/sandsampler/internal/communication"
)

var (
	ErrBridgeStopped = fmt.Errorf("%w: bridge stopped", communication.ErrTransportClosed)
	ErrNotStarted    = errors.New("bridge not started")
)

// RemoteError is an error reply from the worker.
type RemoteError struct {
	ID      uint64
	Action  communication.Action
	Code    communication.Code
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s request %d failed (%s): %s", e.Action, e.ID, e.Code, e.Message)
}

// IsCode reports whether err is a RemoteError carrying code.
func IsCode(err error, code communication.Code) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == code
}
