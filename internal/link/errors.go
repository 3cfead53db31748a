package link

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected      = errors.New("link: not connected")
	ErrClosed            = fmt.Errorf("%w: link closed", ErrNotConnected)
	ErrSegmentNotText    = errors.New("link: segment is not utf-8 text")
	ErrEmptyRequest      = errors.New("link: request has no segments")
	ErrNoPendingRequest  = errors.New("link: receive without pending request")
	ErrUnexpectedMessage = errors.New("link: unexpected message from engine")
	ErrReplyIDMismatch   = errors.New("link: reply message id mismatch")
	ErrConnectionLost    = errors.New("link: connection lost")
)

// TransportError reports a failure of the channel itself: not connected,
// unwritable segment, write failure, or a broken stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("link: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportErr(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}
