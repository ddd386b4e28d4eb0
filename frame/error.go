package frame

import "fmt"

// DecodeError reports a malformed frame found while decoding the wire
// stream, distinct from a plain transport I/O error.
type DecodeError struct {
	msg string
}

func (e *DecodeError) Error() string { return e.msg }

func frameSizeError(length uint32) error {
	return &DecodeError{fmt.Sprintf("frame.ReadFrame: illegal DATA body length: 0x%x", length)}
}
