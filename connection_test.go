package mux

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/flowmux/mux/frame"
)

// fakeConn pairs two io.Pipe halves into something that satisfies
// io.ReadWriteCloser; newFakeConnPair cross-wires two of them so a
// Connection can be driven end to end without a real socket.
type fakeConn struct {
	in     *io.PipeReader
	out    *io.PipeWriter
	closed bool
}

func (c *fakeConn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *fakeConn) Write(p []byte) (int, error) { return c.out.Write(p) }
func (c *fakeConn) Close() error {
	c.closed = true
	c.in.Close()
	return c.out.Close()
}

func newFakeConnPair() (local, remote *fakeConn) {
	local, remote = new(fakeConn), new(fakeConn)
	local.in, remote.out = io.Pipe()
	remote.in, local.out = io.Pipe()
	return
}

func discard(c *fakeConn) { go io.Copy(io.Discard, c.in) }

func awaitDead(t *testing.T, c *Connection) error {
	t.Helper()
	select {
	case <-c.deadCh:
		return c.waitErr()
	case <-time.After(time.Second):
		t.Fatal("connection never terminated")
		return nil
	}
}

func TestOpenStreamSendsSynWithInitialBody(t *testing.T) {
	local, remote := newFakeConnPair()
	defer local.Close()
	c := Client(local, nil)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Control().OpenStream(context.Background(), []byte("hi"))
		if err != nil {
			t.Errorf("OpenStream: %v", err)
		}
	}()

	fr := frame.NewFramer(remote, remote)
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Header.Type != frame.TypeData || !f.Header.Flags.IsSet(frame.FlagSyn) {
		t.Fatalf("expected a SYN data frame, got %s", f)
	}
	if f.Header.StreamID != 1 {
		t.Fatalf("expected stream 1 (first client id), got %d", f.Header.StreamID)
	}
	if string(f.Body) != "hi" {
		t.Fatalf("expected body %q, got %q", "hi", f.Body)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OpenStream never returned")
	}
}

func TestAcceptStreamAcksFirstReply(t *testing.T) {
	local, remote := newFakeConnPair()
	defer local.Close()
	c := Server(local, nil)
	defer c.Close()

	remoteFramer := frame.NewFramer(remote, remote)
	if err := remoteFramer.WriteFrame(frame.NewData(1, []byte("hi"), true, false, false)); err != nil {
		t.Fatalf("write syn: %v", err)
	}

	s, err := c.AcceptStream()
	if err != nil {
		t.Fatalf("AcceptStream: %v", err)
	}
	if s.Id() != 1 {
		t.Fatalf("expected stream id 1, got %d", s.Id())
	}

	p := make([]byte, 2)
	n, err := s.Read(p)
	if err != nil || n != 2 || string(p) != "hi" {
		t.Fatalf("Read: n=%d err=%v body=%q", n, err, p)
	}

	if _, err := s.Write([]byte("bye")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := remoteFramer.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !f.Header.Flags.IsSet(frame.FlagAck) {
		t.Fatalf("first reply on an accepted stream should carry ACK, got %s", f)
	}
	// Reading "hi" re-credits the peer, so that WindowUpdate is the first
	// reply; the Data frame carrying "bye" follows it.
	if f.Header.Type != frame.TypeWindowUpdate || frame.Credit(f) != 2 {
		t.Fatalf("expected a WindowUpdate re-crediting the 2 bytes read, got %s", f)
	}

	f, err = remoteFramer.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(f.Body) != "bye" {
		t.Fatalf("expected body %q, got %q", "bye", f.Body)
	}
}

func TestDataExceedingReceiveWindowTerminatesWithProtocolError(t *testing.T) {
	local, remote := newFakeConnPair()
	discard(remote)
	cfg := &Config{ReceiveWindow: 4}
	c := Server(local, cfg)

	remoteFramer := frame.NewFramer(remote, remote)
	if err := remoteFramer.WriteFrame(frame.NewData(1, []byte("way too much data"), true, false, false)); err != nil {
		t.Fatalf("write syn: %v", err)
	}

	err := awaitDead(t, c)
	if code, _ := GetError(err); code != ECodeProto {
		t.Fatalf("expected ECodeProto, got %v (%v)", code, err)
	}
	if !local.closed {
		t.Fatal("transport not closed after protocol violation")
	}
}

func TestWrongClientParityTerminatesWithProtocolError(t *testing.T) {
	local, remote := newFakeConnPair()
	discard(remote)
	c := Server(local, nil)

	// 300 is even; only servers allocate even ids, so a client-sent SYN
	// claiming 300 is invalid.
	remoteFramer := frame.NewFramer(remote, remote)
	if err := remoteFramer.WriteFrame(frame.NewData(300, nil, true, false, false)); err != nil {
		t.Fatalf("write syn: %v", err)
	}

	err := awaitDead(t, c)
	if code, _ := GetError(err); code != ECodeProto {
		t.Fatalf("expected ECodeProto, got %v (%v)", code, err)
	}
}

func TestDuplicateSynTerminatesWithProtocolError(t *testing.T) {
	local, remote := newFakeConnPair()
	discard(remote)
	c := Server(local, nil)

	remoteFramer := frame.NewFramer(remote, remote)
	if err := remoteFramer.WriteFrame(frame.NewData(1, nil, true, false, false)); err != nil {
		t.Fatalf("write first syn: %v", err)
	}
	if _, err := c.AcceptStream(); err != nil {
		t.Fatalf("AcceptStream: %v", err)
	}
	if err := remoteFramer.WriteFrame(frame.NewData(1, nil, true, false, false)); err != nil {
		t.Fatalf("write duplicate syn: %v", err)
	}

	err := awaitDead(t, c)
	if code, _ := GetError(err); code != ECodeProto {
		t.Fatalf("expected ECodeProto, got %v (%v)", code, err)
	}
}

func TestFinCarriesThroughAfterData(t *testing.T) {
	local, remote := newFakeConnPair()
	discard(remote)
	c := Server(local, nil)
	defer c.Close()

	remoteFramer := frame.NewFramer(remote, remote)
	if err := remoteFramer.WriteFrame(frame.NewData(1, []byte("last"), true, true, false)); err != nil {
		t.Fatalf("write syn+fin: %v", err)
	}

	s, err := c.AcceptStream()
	if err != nil {
		t.Fatalf("AcceptStream: %v", err)
	}

	p := make([]byte, 4)
	n, err := s.Read(p)
	if err != nil || n != 4 {
		t.Fatalf("expected to read the last 4 bytes before EOF, got n=%d err=%v", n, err)
	}
	if _, err := s.Read(p); err != io.EOF {
		t.Fatalf("expected io.EOF after the fin-carrying data, got %v", err)
	}
}

func TestPingIsAnswered(t *testing.T) {
	local, remote := newFakeConnPair()
	defer local.Close()
	c := Client(local, nil)
	defer c.Close()

	remoteFramer := frame.NewFramer(remote, remote)
	if err := remoteFramer.WriteFrame(frame.NewPing(42, false)); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	f, err := remoteFramer.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Header.Type != frame.TypePing || !f.Header.Flags.IsSet(frame.FlagAck) {
		t.Fatalf("expected a pong, got %s", f)
	}
	if frame.Nonce(f) != 42 {
		t.Fatalf("expected echoed nonce 42, got %d", frame.Nonce(f))
	}
}

func TestStreamIDExhaustionIsFatal(t *testing.T) {
	local, remote := newFakeConnPair()
	discard(remote)
	c := Client(local, nil)
	c.nextLocalID = maxStreamID + 1

	_, err := c.Control().OpenStream(context.Background(), nil)
	if err != ErrConnectionClosed {
		t.Fatalf("expected ErrConnectionClosed once the allocator is exhausted, got %v", err)
	}
	if err := awaitDead(t, c); !isNoMoreStreamIDs(err) {
		t.Fatalf("expected ErrNoMoreStreamIDs as the termination cause, got %v", err)
	}
}

func isNoMoreStreamIDs(err error) bool {
	code, cause := GetError(err)
	return code == ECodeProto && cause != nil && cause.Error() == "mux: no more stream ids available"
}

func TestGracefulCloseSendsGoAway(t *testing.T) {
	local, remote := newFakeConnPair()
	c := Client(local, nil)

	remoteFramer := frame.NewFramer(remote, remote)
	c.Close()

	f, err := remoteFramer.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Header.Type != frame.TypeGoAway || frame.ErrorCode(f) != uint32(NoError) {
		t.Fatalf("expected GoAway(NoError), got %s", f)
	}

	if err := awaitDead(t, c); err != nil {
		t.Fatalf("expected a nil cause for a local graceful close, got %v", err)
	}
}

func TestReceivedGoAwayCarriesDebugIntoWaitError(t *testing.T) {
	local, remote := newFakeConnPair()
	discard(remote)
	c := Client(local, nil)
	defer c.Close()

	remoteFramer := frame.NewFramer(remote, remote)
	goAway := frame.NewGoAway(0, uint32(ECodeProto), []byte("shutting down for maintenance"))
	if err := remoteFramer.WriteFrame(goAway); err != nil {
		t.Fatalf("write goaway: %v", err)
	}

	err := awaitDead(t, c)
	code, cause := GetError(err)
	if code != ECodeProto {
		t.Fatalf("expected ECodeProto, got %v (%v)", code, err)
	}
	if cause == nil || !strings.Contains(cause.Error(), "shutting down for maintenance") {
		t.Fatalf("expected the remote's debug text to surface in Wait()'s error, got %v", cause)
	}
}
