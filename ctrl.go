package mux

import "context"

// cmdOpenStream is the sole control command kind the engine accepts;
// modeled as a concrete struct rather than a tagged union since there is
// only one kind of control-channel request.
type cmdOpenStream struct {
	body  []byte
	reply chan openResult
}

type openResult struct {
	stream *Stream
	err    error
}

// Ctrl is the cloneable control-channel handle: a bounded sender into
// the engine's command mailbox.
type Ctrl struct {
	receiveWindow uint32
	cmds          chan *cmdOpenStream
	dead          <-chan struct{}
}

// OpenStream asks the connection engine to open a new locally-initiated
// stream, optionally carrying initial body data in the opening SYN.
//
// If initial exceeds the configured receive window it fails immediately,
// without touching the connection. Otherwise the request
// is enqueued in FIFO order with the control mailbox's other opens; it
// resolves once the engine has allocated an id and registered the stream
// (the SYN is queued for transmission right after the reply), or fails
// with ErrConnectionClosed if the engine is gone, or with ctx.Err() if
// ctx ends first.
func (c Ctrl) OpenStream(ctx context.Context, initial []byte) (*Stream, error) {
	if uint32(len(initial)) > c.receiveWindow {
		return nil, &InitialBodyTooLarge{Limit: c.receiveWindow}
	}
	cmd := &cmdOpenStream{body: initial, reply: make(chan openResult, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.dead:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res.stream, res.err
	case <-c.dead:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
