package mux

import (
	"io"
	"net"
	"sync"

	"github.com/flowmux/mux/frame"
)

// Stream is the user-facing handle for one multiplexed stream: it owns
// the inbox receiver, reads/writes translate to Items pushed onto the
// connection's shared mailbox, and it alone mutates the shared
// recvWindow cell.
type Stream struct {
	id      uint32
	cfg     *Config
	conn    *Connection
	mailbox chan<- streamItem
	recvWin *recvWindow
	sendWin *sendWindow
	buf     *inboundBuffer

	closed     chan struct{}
	closeOnce  sync.Once
	writeMu    sync.Mutex
	writeFinal bool
}

func newStream(id uint32, cfg *Config, conn *Connection, mailbox chan<- streamItem, inbox <-chan Item, recvWin *recvWindow, closed chan struct{}) *Stream {
	s := &Stream{
		id:      id,
		cfg:     cfg,
		conn:    conn,
		mailbox: mailbox,
		recvWin: recvWin,
		sendWin: newSendWindow(cfg.ReceiveWindow),
		buf:     newInboundBuffer(),
		closed:  closed,
	}
	go s.pump(inbox)
	return s
}

// pump drains the inbox the engine delivers into, translating each Item
// into buffer/window state. It exits either when it sees a Reset (the
// stream is torn down, no more items will ever arrive for it) or when the
// engine closes the channel (connection teardown).
func (s *Stream) pump(inbox <-chan Item) {
	for it := range inbox {
		switch v := it.(type) {
		case DataItem:
			s.recvWin.add(-int64(len(v.Body)))
			s.buf.write(v.Body)
		case FinishItem:
			s.buf.setError(io.EOF)
		case ResetItem:
			s.buf.setError(errStreamReset)
			s.sendWin.setError(errStreamReset)
			return
		case WindowUpdateItem:
			s.sendWin.increment(int64(v.Credit))
		}
	}
	s.buf.setError(io.EOF)
	s.sendWin.setError(ErrConnectionClosed)
}

// Read reads buffered inbound bytes, re-crediting the peer for exactly
// the number of bytes consumed.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.buf.read(p)
	if n > 0 {
		s.recvWin.add(int64(n))
		s.sendItem(WindowUpdateItem{Credit: uint32(n)})
	}
	return n, err
}

// Write sends p as one or more Data items, chunked to frame.MaxBodySize
// and gated by the stream's send window. SYN-flag bookkeeping for the
// first frame of a stream belongs entirely to the connection engine.
func (s *Stream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeFinal {
		return 0, errStreamClosed
	}

	remaining := p
	n := 0
	for len(remaining) > 0 {
		chunk := remaining
		if len(chunk) > frame.MaxBodySize {
			chunk = chunk[:frame.MaxBodySize]
		}
		got, err := s.sendWin.decrement(int64(len(chunk)))
		if err != nil {
			return n, err
		}
		body := append([]byte(nil), chunk[:got]...)
		if err := s.sendItem(DataItem{Body: body}); err != nil {
			return n, err
		}
		n += int(got)
		remaining = remaining[got:]
	}
	return n, nil
}

// CloseWrite half-closes the stream's write side by sending a Finish
// item. Further Writes fail with errStreamClosed.
func (s *Stream) CloseWrite() error {
	s.writeMu.Lock()
	if s.writeFinal {
		s.writeMu.Unlock()
		return nil
	}
	s.writeFinal = true
	s.writeMu.Unlock()
	return s.sendItem(FinishItem{})
}

// Close half-closes the write side and tells the engine this stream will
// never read again, triggering deliver's "receiver dropped" path.
func (s *Stream) Close() error {
	_ = s.CloseWrite()
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Id returns the stream's identifier.
func (s *Stream) Id() uint32 { return s.id }

// Connection returns the parent Connection this stream is multiplexed over.
func (s *Stream) Connection() *Connection { return s.conn }

func (s *Stream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *Stream) sendItem(it Item) error {
	select {
	case s.mailbox <- streamItem{id: s.id, item: it}:
		return nil
	case <-s.conn.deadCh:
		return ErrConnectionClosed
	}
}
