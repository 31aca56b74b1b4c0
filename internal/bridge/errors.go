package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidUTF8 indicates a payload chunk that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("payload is not valid UTF-8")

	// ErrMissingValue indicates a decoded payload without a "value" key.
	ErrMissingValue = errors.New(`payload has no "value" key`)

	// ErrSourceClosed is returned by a Receiver when no more messages will arrive.
	ErrSourceClosed = errors.New("message source closed")
)

// DecodeError describes a payload that could not be turned into a value.
// It wraps ErrInvalidUTF8 or ErrMissingValue.
type DecodeError struct {
	// Chunk is the index of the offending chunk for ErrInvalidUTF8, -1 otherwise.
	Chunk int
	// Payload is the Go-quoted payload.
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Chunk >= 0 {
		return fmt.Sprintf("decoding payload %s: chunk %d: %v", e.Payload, e.Chunk, e.Err)
	}
	return fmt.Sprintf("decoding payload %s: %v", e.Payload, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
