package frame

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, f RawFrame) RawFrame {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return got
}

func TestDataRoundTrip(t *testing.T) {
	f := NewData(7, []byte("hello"), true, false, false)
	got := roundTrip(t, f)
	if got.Header.Type != TypeData || got.Header.StreamID != 7 || !got.Header.Flags.IsSet(FlagSyn) {
		t.Fatalf("unexpected header: %+v", got.Header)
	}
	if string(got.Body) != "hello" {
		t.Fatalf("unexpected body: %q", got.Body)
	}
}

func TestDataZeroLengthFin(t *testing.T) {
	f := NewData(3, nil, false, true, false)
	got := roundTrip(t, f)
	if got.Header.Aux != 0 || !got.Header.Flags.IsSet(FlagFin) || len(got.Body) != 0 {
		t.Fatalf("unexpected frame: %+v body=%v", got.Header, got.Body)
	}
}

func TestWindowUpdateRoundTrip(t *testing.T) {
	f := NewWindowUpdate(9, 4096, false, false, false)
	got := roundTrip(t, f)
	if got.Header.Type != TypeWindowUpdate || Credit(got) != 4096 || len(got.Body) != 0 {
		t.Fatalf("unexpected frame: %+v", got)
	}
}

func TestPingRoundTrip(t *testing.T) {
	f := NewPing(42, true)
	got := roundTrip(t, f)
	if got.Header.Type != TypePing || got.Header.StreamID != 0 || Nonce(got) != 42 || !got.Header.Flags.IsSet(FlagAck) {
		t.Fatalf("unexpected frame: %+v", got)
	}
}

func TestGoAwayRoundTrip(t *testing.T) {
	f := NewGoAway(7, 1, nil)
	got := roundTrip(t, f)
	if got.Header.Type != TypeGoAway || got.Header.StreamID != 0 || ErrorCode(got) != 1 || LastStreamId(got) != 7 {
		t.Fatalf("unexpected frame: %+v", got)
	}
	if len(Debug(got)) != 0 {
		t.Fatalf("expected no debug payload, got %q", Debug(got))
	}
}

func TestGoAwayRoundTripWithDebug(t *testing.T) {
	f := NewGoAway(3, 2, []byte("boom"))
	got := roundTrip(t, f)
	if ErrorCode(got) != 2 || LastStreamId(got) != 3 {
		t.Fatalf("unexpected frame: %+v", got)
	}
	if string(Debug(got)) != "boom" {
		t.Fatalf("expected debug %q, got %q", "boom", Debug(got))
	}
}

func TestRstFlagRoundTrip(t *testing.T) {
	f := NewData(5, nil, false, false, true)
	got := roundTrip(t, f)
	if !got.Header.Flags.IsSet(FlagRst) {
		t.Fatalf("expected RST flag, got %+v", got.Header)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var hb [headerSize]byte
	Header{Type: TypeData, Aux: MaxBodySize + 1}.encode(hb[:])
	if _, err := ReadFrame(bytes.NewReader(hb[:])); err == nil {
		t.Fatalf("expected frameSizeError for oversized body")
	}
}

func TestFlagsString(t *testing.T) {
	var f Flags
	if f.String() != "NONE" {
		t.Fatalf("expected NONE, got %s", f.String())
	}
	f.Set(FlagSyn)
	f.Set(FlagAck)
	if f.String() != "SYN|ACK" {
		t.Fatalf("unexpected flag string: %s", f.String())
	}
}
