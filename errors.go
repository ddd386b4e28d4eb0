package mux

import (
	"errors"
	"fmt"
)

// ErrorCode is the 32-bit error code carried in a GoAway frame.
type ErrorCode uint32

const (
	// NoError indicates a clean shutdown with no protocol violation.
	NoError ErrorCode = iota
	// ECodeProto is emitted in GoAway for any protocol violation by the peer.
	ECodeProto
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "no error"
	case ECodeProto:
		return "protocol error"
	default:
		return fmt.Sprintf("error code %d", uint32(c))
	}
}

// muxError pairs an ErrorCode with the underlying cause so callers can
// recover the code with GetError without type-asserting on a concrete
// struct.
type muxError struct {
	code ErrorCode
	err  error
}

func (e *muxError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return e.code.String()
}

func (e *muxError) Unwrap() error { return e.err }

func newErr(code ErrorCode, err error) error {
	return &muxError{code, err}
}

// GetError recovers the ErrorCode associated with err, if any.
func GetError(err error) (ErrorCode, error) {
	var e *muxError
	if errors.As(err, &e) {
		return e.code, e.err
	}
	return ECodeProto, err
}

var (
	// ErrConnectionClosed is returned by Ctrl.OpenStream and by stream
	// writes once the connection has been torn down, locally or by the
	// remote. Stream reads report io.EOF instead.
	ErrConnectionClosed = errors.New("mux: connection closed")

	// ErrNoMoreStreamIDs is a fatal connection error raised when the local
	// allocator would overflow past 2^32-2.
	ErrNoMoreStreamIDs = newErr(ECodeProto, errors.New("mux: no more stream ids available"))

	errSessionClosed = newErr(NoError, errors.New("mux: session closed"))
	errPeerEOF       = newErr(NoError, errors.New("mux: read EOF from remote peer"))
	errStreamClosed  = errors.New("mux: stream closed")
	errStreamReset   = errors.New("mux: stream reset by peer")
)

// peerGoAwayErr builds the cause Wait() surfaces when the remote end sends
// a GoAway: it carries the remote's error code and, if present, the
// debug bytes the remote attached to explain the shutdown.
func peerGoAwayErr(code ErrorCode, debug []byte) error {
	if len(debug) == 0 {
		return newErr(code, fmt.Errorf("mux: peer sent go away: %s", code))
	}
	return newErr(code, fmt.Errorf("mux: peer sent go away: %s", debug))
}

// InitialBodyTooLarge is returned by Ctrl.OpenStream when the caller's
// initial body exceeds the configured receive window.
type InitialBodyTooLarge struct {
	Limit uint32
}

func (e *InitialBodyTooLarge) Error() string {
	return fmt.Sprintf("mux: initial body exceeds receive window of %d bytes", e.Limit)
}

func protoErr(format string, args ...interface{}) error {
	return newErr(ECodeProto, fmt.Errorf(format, args...))
}
