package framing

import (
	"errors"
	"fmt"
)

// #region sentinels
var (
	// ErrEndOfStream is returned by Decoder.Next when the -1 sentinel frame
	// is read. It is not a failure; the peer now waits for the reply.
	ErrEndOfStream = errors.New("end of stream")

	ErrTruncated      = errors.New("stream truncated before end-of-stream sentinel")
	ErrNegativeLength = errors.New("negative frame length")
	ErrRecordTooLarge = errors.New("frame length exceeds maximum record size")
	ErrMalformedRow   = errors.New("malformed feature row")
	ErrReplyTooLarge  = errors.New("reply length exceeds maximum reply size")
	ErrMalformedReply = errors.New("malformed reply payload")
)

// #endregion sentinels

// #region framing-error
// FramingError reports a protocol violation on a frame stream. The
// connection that produced it must be terminated.
type FramingError struct {
	Op  string // "read header", "read payload", "parse row", ...
	Err error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: %s: %v", e.Op, e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

func framingErr(op string, err error) error {
	return &FramingError{Op: op, Err: err}
}

// IsFramingError reports whether err carries a FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// #endregion framing-error

// #region remote-error
// RemoteError is a failure indication sent by the peer in place of a
// prediction batch.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Message
}

// #endregion remote-error
