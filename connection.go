package mux

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/flowmux/mux/frame"
	"github.com/flowmux/mux/log"
)

// Mode distinguishes the two peers of a Connection: it fixes which half of
// the id space each side allocates from.
type Mode uint8

const (
	ModeClient Mode = iota
	ModeServer
)

func isClientID(id uint32) bool { return id&1 == 1 }

// maxStreamID is the highest id the local allocator may ever hand out;
// advancing the counter by 2 past any higher id would overflow 32 bits.
const maxStreamID = ^uint32(0) - 2

// streamItem is one entry of the shared stream mailbox: an Item tagged
// with the id of the stream it came from, since the mailbox is shared
// across every locally-known stream.
type streamItem struct {
	id   uint32
	item Item
}

type readResult struct {
	frame frame.RawFrame
	err   error
}

// Connection is the engine: it owns the stream table, the id allocator,
// and three goroutines (reader, writer, drive) that cooperatively step
// through reading, dispatching, and writing frames.
type Connection struct {
	mode      Mode
	cfg       *Config
	framer    frame.Framer
	transport io.Closer
	addr      interface{} // transport, kept for LocalAddr/RemoteAddr type assertion
	tbl       *table
	log       log.Logger
	metrics   *Metrics

	nextLocalID  uint32
	remoteLastID uint32 // highest remotely-initiated stream id handled so far, for GoAway

	ctrlCh  chan *cmdOpenStream
	itemCh  chan streamItem
	writeCh chan frame.RawFrame
	readCh  chan readResult
	acceptCh chan *Stream

	writeErrCh chan error

	closeCh   chan struct{}
	closeOnce sync.Once

	deadCh     chan struct{}
	deadOnce   sync.Once
	dieErrMu   sync.Mutex
	dieErr     error
	pendingOut *frame.RawFrame
}

// Client wraps transport as the client (odd-id) side of a Connection.
func Client(transport io.ReadWriteCloser, cfg *Config) *Connection {
	return newConnection(transport, cfg, ModeClient)
}

// Server wraps transport as the server (even-id) side of a Connection.
func Server(transport io.ReadWriteCloser, cfg *Config) *Connection {
	return newConnection(transport, cfg, ModeServer)
}

func newConnection(transport io.ReadWriteCloser, cfg *Config, mode Mode) *Connection {
	if cfg == nil {
		cfg = &zeroConfig
	}
	cfg.initDefaults()

	c := &Connection{
		mode:      mode,
		cfg:       cfg,
		framer:    cfg.NewFramer(transport, transport),
		transport: transport,
		addr:      transport,
		tbl:       newTable(),
		log:       cfg.Logger,
		metrics:   cfg.Metrics,

		ctrlCh:   make(chan *cmdOpenStream, cfg.ctrlQueueDepth),
		itemCh:   make(chan streamItem, cfg.streamItemQueueDepth),
		writeCh:  make(chan frame.RawFrame, 1),
		readCh:   make(chan readResult),
		acceptCh: make(chan *Stream, cfg.AcceptBacklog),

		writeErrCh: make(chan error, 1),
		closeCh:    make(chan struct{}),
		deadCh:     make(chan struct{}),
	}
	if mode == ModeClient {
		c.nextLocalID = 1
	} else {
		c.nextLocalID = 2
	}

	go c.readLoop()
	go c.writeLoop()
	go c.run()
	return c
}

// Control returns a cloneable handle for opening locally-initiated streams.
func (c *Connection) Control() Ctrl {
	return Ctrl{receiveWindow: c.cfg.ReceiveWindow, cmds: c.ctrlCh, dead: c.deadCh}
}

// AcceptStream blocks until the remote opens a new stream, or the
// connection dies.
func (c *Connection) AcceptStream() (*Stream, error) {
	select {
	case s, ok := <-c.acceptCh:
		if ok {
			return s, nil
		}
	case <-c.deadCh:
	}
	return nil, c.waitErr()
}

// Wait blocks until the connection has terminated and returns the cause,
// nil for a clean, locally or remotely initiated shutdown.
func (c *Connection) Wait() error {
	<-c.deadCh
	return c.waitErr()
}

func (c *Connection) waitErr() error {
	c.dieErrMu.Lock()
	defer c.dieErrMu.Unlock()
	return c.dieErr
}

// Close begins a graceful shutdown: a GoAway(NoError) is sent best-effort
// and every live stream observes EOF.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}

func (c *Connection) LocalAddr() net.Addr {
	if a, ok := c.addr.(interface{ LocalAddr() net.Addr }); ok {
		return a.LocalAddr()
	}
	return nil
}

func (c *Connection) RemoteAddr() net.Addr {
	if a, ok := c.addr.(interface{ RemoteAddr() net.Addr }); ok {
		return a.RemoteAddr()
	}
	return nil
}

// readLoop does nothing but block in ReadFrame and forward results: the
// half of the engine that reads from the underlying transport.
func (c *Connection) readLoop() {
	for {
		f, err := c.framer.ReadFrame()
		if err == nil {
			c.metrics.framesRead.Inc()
		}
		select {
		case c.readCh <- readResult{frame: f, err: err}:
		case <-c.deadCh:
			return
		}
		if err != nil {
			return
		}
	}
}

// writeLoop drains the capacity-1 writeCh: the engine only ever has one
// frame in flight to the transport at a time.
func (c *Connection) writeLoop() {
	for {
		select {
		case f := <-c.writeCh:
			if err := c.framer.WriteFrame(f); err != nil {
				select {
				case c.writeErrCh <- err:
				default:
				}
				return
			}
			c.metrics.framesWritten.Inc()
		case <-c.deadCh:
			return
		}
	}
}

// run is the drive loop: pending output is flushed first (blocking until
// the writer takes it), then control commands, then stream items, then
// inbound frames, each of those three as a non-blocking drain, falling back to a blocking multi-way select only
// once nothing else can make progress without it.
func (c *Connection) run() {
	for {
		if acted, term := c.flushPending(); term {
			return
		} else if acted {
			continue
		}
		if acted, term := c.drainCtrl(); term {
			return
		} else if acted {
			continue
		}
		if acted, term := c.drainItems(); term {
			return
		} else if acted {
			continue
		}
		if acted, term := c.readOnce(); term {
			return
		} else if acted {
			continue
		}
		if c.blockForEvent() {
			return
		}
	}
}

// flushPending implements step 2: while a frame is parked, the whole
// drive suspends until it can be handed to the writer or the connection
// dies.
func (c *Connection) flushPending() (acted, terminated bool) {
	if c.pendingOut == nil {
		return false, false
	}
	select {
	case c.writeCh <- *c.pendingOut:
		c.pendingOut = nil
		return true, false
	case err := <-c.writeErrCh:
		c.terminate(err)
		return false, true
	}
}

func (c *Connection) drainCtrl() (acted, terminated bool) {
	select {
	case cmd := <-c.ctrlCh:
		if err := c.handleOpenStream(cmd); err != nil {
			c.terminate(err)
			return false, true
		}
		return true, false
	default:
		return false, false
	}
}

func (c *Connection) drainItems() (acted, terminated bool) {
	select {
	case it := <-c.itemCh:
		c.handleStreamItem(it)
		return true, false
	default:
		return false, false
	}
}

func (c *Connection) readOnce() (acted, terminated bool) {
	select {
	case rr := <-c.readCh:
		return c.dispatchFrame(rr)
	default:
		return false, false
	}
}

// blockForEvent is reached only once nothing progressed this pass; it
// blocks on the same event set the non-blocking drains probe, handling
// exactly one before returning to the top of run's loop.
func (c *Connection) blockForEvent() (terminated bool) {
	select {
	case cmd := <-c.ctrlCh:
		if err := c.handleOpenStream(cmd); err != nil {
			c.terminate(err)
			return true
		}
	case it := <-c.itemCh:
		c.handleStreamItem(it)
	case rr := <-c.readCh:
		_, term := c.dispatchFrame(rr)
		return term
	case err := <-c.writeErrCh:
		c.terminate(err)
		return true
	case <-c.closeCh:
		c.handleClose()
		return true
	}
	return false
}

func (c *Connection) dispatchFrame(rr readResult) (acted, terminated bool) {
	if rr.err != nil {
		if rr.err == io.EOF {
			c.terminate(errPeerEOF)
		} else {
			c.terminate(rr.err)
		}
		return false, true
	}
	f := rr.frame
	switch f.Header.Type {
	case frame.TypeData:
		s, violation := c.onData(f)
		if violation != nil {
			c.violateProtocol(violation)
			return false, true
		}
		c.offerAccept(s)
		return true, false
	case frame.TypeWindowUpdate:
		s, violation := c.onWindowUpdate(f)
		if violation != nil {
			c.violateProtocol(violation)
			return false, true
		}
		c.offerAccept(s)
		return true, false
	case frame.TypePing:
		c.onPing(f)
		return true, false
	case frame.TypeGoAway:
		code := ErrorCode(frame.ErrorCode(f))
		debug := frame.Debug(f)
		c.log.Log(context.Background(), log.LogLevelInfo, "received go away", map[string]interface{}{
			"error_code":     code,
			"last_stream_id": frame.LastStreamId(f),
			"debug":          string(debug),
		})
		var cause error
		if code != NoError || len(debug) > 0 {
			cause = peerGoAwayErr(code, debug)
		}
		c.terminate(cause)
		return false, true
	default:
		return true, false
	}
}

func (c *Connection) offerAccept(s *Stream) {
	if s == nil {
		return
	}
	select {
	case c.acceptCh <- s:
	case <-c.closeCh:
	case <-c.deadCh:
	}
}

// nextStreamID allocates the next locally-owned id, refusing once doing
// so would overflow the 2^32-2 budget (invariant 6).
func (c *Connection) nextStreamID() (uint32, error) {
	if c.nextLocalID > maxStreamID {
		return 0, ErrNoMoreStreamIDs
	}
	id := c.nextLocalID
	c.nextLocalID += 2
	return id, nil
}

// validRemoteID reports whether id could legally have been allocated by
// the peer: nonzero (0 is the reserved session id) and of the opposite
// parity from our own allocator.
func (c *Connection) validRemoteID(id uint32) bool {
	if id == 0 {
		return false
	}
	if c.mode == ModeClient {
		return !isClientID(id)
	}
	return isClientID(id)
}

func (c *Connection) transmit(f frame.RawFrame) {
	select {
	case c.writeCh <- f:
	default:
		c.pendingOut = &f
	}
}

// queueFinal parks f directly in pendingOut rather than opportunistically
// racing it onto writeCh. Both handleClose and violateProtocol are only
// ever called with pendingOut already nil (run always flushes it before
// reaching either), so this never clobbers another frame; it exists so
// terminate's best-effort flush-with-timeout is the one path responsible
// for getting a connection's final frame onto the wire before the
// transport is closed out from under the writer goroutine.
func (c *Connection) queueFinal(f frame.RawFrame) {
	c.pendingOut = &f
}

func (c *Connection) handleOpenStream(cmd *cmdOpenStream) error {
	id, err := c.nextStreamID()
	if err != nil {
		return err
	}
	h := c.newHandle(c.cfg.ReceiveWindow)
	c.tbl.insert(id, h)
	c.metrics.streamsOpened.Inc()
	c.metrics.liveStreams.Set(float64(c.tbl.len()))
	s := newStream(id, c.cfg, c, c.itemCh, h.inbox, h.recvWin, h.closed)

	select {
	case cmd.reply <- openResult{stream: s, err: nil}:
	default:
	}
	c.transmit(frame.NewData(frame.StreamId(id), cmd.body, true, false, false))
	return nil
}

func (c *Connection) newHandle(initialCredit uint32) *streamHandle {
	return &streamHandle{
		recvWin: newRecvWindow(initialCredit),
		inbox:   make(chan Item, c.cfg.streamItemQueueDepth),
		closed:  make(chan struct{}),
	}
}

func (c *Connection) acceptStream(id uint32, initialCredit uint32) *Stream {
	h := c.newHandle(initialCredit)
	h.pendingAck = true
	c.tbl.insert(id, h)
	c.metrics.streamsOpened.Inc()
	c.metrics.liveStreams.Set(float64(c.tbl.len()))
	if id > c.remoteLastID {
		c.remoteLastID = id
	}
	return newStream(id, c.cfg, c, c.itemCh, h.inbox, h.recvWin, h.closed)
}

func (c *Connection) deliverMust(id uint32, it Item) {
	_ = c.deliver(id, it)
}

type deliverResult int

const (
	delivered deliverResult = iota
	streamNotFound
	receiverFull
)

// deliver is the single point where the engine hands an Item to a known
// stream's inbox, checking the shared recvWindow for Data items before
// ever touching the channel. A closed handle (the Stream
// will read no more) is treated the same as an absent one.
func (c *Connection) deliver(id uint32, it Item) deliverResult {
	h, ok := c.tbl.get(id)
	if !ok {
		return streamNotFound
	}
	if d, isData := it.(DataItem); isData {
		if int64(len(d.Body)) > h.recvWin.get() {
			return receiverFull
		}
	}
	select {
	case <-h.closed:
		c.tbl.remove(id)
		return streamNotFound
	default:
	}
	select {
	case h.inbox <- it:
		return delivered
	case <-h.closed:
		c.tbl.remove(id)
		return streamNotFound
	}
}

func (c *Connection) onReset(id uint32) {
	c.deliverMust(id, ResetItem{})
	if c.tbl.has(id) {
		c.tbl.remove(id)
		c.metrics.streamsClosed.Inc()
		c.metrics.liveStreams.Set(float64(c.tbl.len()))
	}
}

// onData dispatches an inbound Data frame. A non-nil *Stream is only ever
// returned for a remotely-initiated stream that should be handed to
// AcceptStream; a non-nil error is always a protocol violation the caller
// turns into a GoAway + terminate.
func (c *Connection) onData(f frame.RawFrame) (*Stream, error) {
	id := uint32(f.Header.StreamID)
	if f.Header.Flags.IsSet(frame.FlagRst) {
		c.onReset(id)
		return nil, nil
	}
	isFin := f.Header.Flags.IsSet(frame.FlagFin)
	body := f.Body

	if f.Header.Flags.IsSet(frame.FlagSyn) {
		if !c.validRemoteID(id) || c.tbl.has(id) || uint32(len(body)) > c.cfg.ReceiveWindow {
			return nil, protoErr("invalid SYN data frame for stream %d", id)
		}
		s := c.acceptStream(id, c.cfg.ReceiveWindow)
		if isFin {
			c.deliverMust(id, FinishItem{})
		}
		if len(body) > 0 {
			c.deliverMust(id, DataItem{Body: body})
		}
		return s, nil
	}

	switch c.deliver(id, DataItem{Body: body}) {
	case receiverFull:
		return nil, protoErr("data frame exceeds receive window on stream %d", id)
	case delivered:
		if isFin {
			c.deliver(id, FinishItem{})
		}
	case streamNotFound:
		// Frame for a stream we no longer know about; silently dropped.
	}
	return nil, nil
}

// onWindowUpdate dispatches an inbound WindowUpdate frame; a SYN here opens
// a stream the same way a SYN Data frame does, seeding recv credit from the
// frame's Aux instead of the configured default.
func (c *Connection) onWindowUpdate(f frame.RawFrame) (*Stream, error) {
	id := uint32(f.Header.StreamID)
	if f.Header.Flags.IsSet(frame.FlagRst) {
		c.onReset(id)
		return nil, nil
	}
	credit := frame.Credit(f)
	isFin := f.Header.Flags.IsSet(frame.FlagFin)

	if f.Header.Flags.IsSet(frame.FlagSyn) {
		if !c.validRemoteID(id) || c.tbl.has(id) {
			return nil, protoErr("invalid SYN window-update frame for stream %d", id)
		}
		s := c.acceptStream(id, credit)
		if isFin {
			c.deliverMust(id, FinishItem{})
		}
		return s, nil
	}

	if c.deliver(id, WindowUpdateItem{Credit: credit}) == delivered && isFin {
		c.deliver(id, FinishItem{})
	}
	return nil, nil
}

// onPing dispatches an inbound Ping frame, with a deliberate carve-out from
// the general remote-id-validation rule: a Ping addressed to a known stream
// id is answered like a session Ping rather than rejected.
func (c *Connection) onPing(f frame.RawFrame) {
	if f.Header.Flags.IsSet(frame.FlagAck) {
		return
	}
	id := uint32(f.Header.StreamID)
	if id == 0 || c.tbl.has(id) {
		c.transmit(frame.NewPing(frame.Nonce(f), true))
		return
	}
	c.log.Log(context.Background(), log.LogLevelDebug, "ping for unknown stream dropped", map[string]interface{}{
		"stream_id": id,
	})
}

func (c *Connection) handleStreamItem(si streamItem) {
	h, known := c.tbl.get(si.id)
	ack := known && h.pendingAck

	var f frame.RawFrame
	switch v := si.item.(type) {
	case DataItem:
		f = frame.NewData(frame.StreamId(si.id), v.Body, false, false, false)
		if ack {
			f.Header.Flags.Set(frame.FlagAck)
			h.pendingAck = false
		}
	case WindowUpdateItem:
		f = frame.NewWindowUpdate(frame.StreamId(si.id), v.Credit, false, false, false)
		if ack {
			f.Header.Flags.Set(frame.FlagAck)
			h.pendingAck = false
		}
	case FinishItem:
		// Finish never consumes the pending-ack flag: it carries no reply
		// semantics of its own, so the next Data/WindowUpdate is still the
		// one that owes the peer its first ACK.
		f = frame.NewData(frame.StreamId(si.id), nil, false, true, false)
	case ResetItem:
		c.tbl.remove(si.id)
		c.metrics.streamsClosed.Inc()
		c.metrics.liveStreams.Set(float64(c.tbl.len()))
		f = frame.NewData(frame.StreamId(si.id), nil, false, false, true)
		c.transmit(f)
		return
	default:
		return
	}
	c.transmit(f)
}

// handleClose is reached when a local Close() is observed by the drive
// loop: a best-effort GoAway(NoError) is queued, then the connection
// terminates with no cause (a clean shutdown).
func (c *Connection) handleClose() {
	c.queueFinal(frame.NewGoAway(frame.StreamId(c.remoteLastID), uint32(NoError), nil))
	c.metrics.goAwaysSent.Inc()
	c.terminate(nil)
}

// violateProtocol is the shared path every protocol-violation branch of
// dispatchFrame takes: queue a GoAway(ECodeProto) carrying cause as debug
// text, and terminate with the violation as cause.
func (c *Connection) violateProtocol(cause error) {
	var debug []byte
	if cause != nil {
		debug = []byte(cause.Error())
	}
	c.queueFinal(frame.NewGoAway(frame.StreamId(c.remoteLastID), uint32(ECodeProto), debug))
	c.metrics.goAwaysSent.Inc()
	c.terminate(cause)
}

// terminate tears the connection down: any frame still
// parked in pendingOut gets one best-effort flush attempt, every stream's
// inbox is closed (which is how each Stream's pump observes EOF/closed),
// the table is cleared, and deadCh is closed exactly once.
//
// The pending frame is written directly rather than handed to writeCh:
// the writer goroutine only promises to pull from that channel, not to
// finish the physical Write before this method returns, and closing the
// transport out from under an in-flight Write would risk truncating the
// very GoAway this is trying to deliver. A net.Conn could bound this with
// a write deadline, but a Connection's transport is only required to be
// an io.ReadWriteCloser, so the write races against a timer instead.
func (c *Connection) terminate(cause error) {
	c.deadOnce.Do(func() {
		if c.pendingOut != nil {
			f := *c.pendingOut
			c.pendingOut = nil
			wrote := make(chan struct{})
			go func() {
				_ = c.framer.WriteFrame(f)
				close(wrote)
			}()
			select {
			case <-wrote:
			case <-time.After(250 * time.Millisecond):
			}
		}

		c.dieErrMu.Lock()
		c.dieErr = cause
		c.dieErrMu.Unlock()

		c.tbl.each(func(_ uint32, h *streamHandle) {
			close(h.inbox)
		})
		c.tbl.clear()
		c.metrics.liveStreams.Set(0)

		_ = c.transport.Close()
		close(c.deadCh)
		close(c.acceptCh)
	})
}
