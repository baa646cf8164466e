package wire

import (
	"errors"
	"fmt"
)

// Sentinel errors for stream framing. Callers distinguish them with
// errors.Is.
var (
	ErrNotHeader       = errors.New("wire: not a stream header")
	ErrUnknownCodec    = errors.New("wire: unknown codec type")
	ErrMessageTooLarge = errors.New("wire: message exceeds size limit")
)

// ParseError indicates a failure to decode a framing field. It records
// which field was being decoded and wraps the cause.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("wire: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
