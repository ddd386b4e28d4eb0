// Package frame implements the wire encoding for the multiplexer: a typed
// header (type, flags, stream id, and a context-dependent 32-bit payload)
// followed by an optional body. Type is one of {Data, WindowUpdate, Ping,
// GoAway}; RST is a header flag rather than its own frame type.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

var order = binary.BigEndian

// StreamId uniquely identifies a stream within a connection. Id 0 is the
// session id, used only for Ping and GoAway frames.
type StreamId uint32

// Type identifies the kind of frame carried by a header.
type Type uint8

const (
	TypeData Type = iota
	TypeWindowUpdate
	TypePing
	TypeGoAway
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeWindowUpdate:
		return "WINDOW_UPDATE"
	case TypePing:
		return "PING"
	case TypeGoAway:
		return "GOAWAY"
	default:
		return "UNKNOWN"
	}
}

// Flags is a bitset of frame-level flags. A single frame may carry more
// than one: an accepted remote SYN piggybacks ACK on its first reply, and
// a locally-initiated RST always carries no other bit.
type Flags uint8

const (
	FlagSyn Flags = 1 << iota
	FlagAck
	FlagFin
	FlagRst
)

func (f Flags) IsSet(g Flags) bool { return f&g != 0 }
func (f *Flags) Set(g Flags)       { *f |= g }
func (f *Flags) Unset(g Flags)     { *f &^= g }

func (f Flags) String() string {
	s := ""
	for _, p := range []struct {
		bit  Flags
		name string
	}{{FlagSyn, "SYN"}, {FlagAck, "ACK"}, {FlagFin, "FIN"}, {FlagRst, "RST"}} {
		if f.IsSet(p.bit) {
			if s != "" {
				s += "|"
			}
			s += p.name
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// headerSize is the fixed on-wire size of every frame's header: 1 byte
// type, 1 byte flags, 4 bytes stream id, 4 bytes aux.
const headerSize = 10

// Header is the fixed-size prefix of every frame. Aux carries whichever
// 32-bit payload the frame type defines: body length for Data, credit for
// WindowUpdate, nonce for Ping, body length for GoAway (whose body holds
// the last-handled stream id, error code, and an optional debug payload).
type Header struct {
	Type     Type
	Flags    Flags
	StreamID StreamId
	Aux      uint32
}

func (h Header) encode(b []byte) {
	b[0] = byte(h.Type)
	b[1] = byte(h.Flags)
	order.PutUint32(b[2:6], uint32(h.StreamID))
	order.PutUint32(b[6:10], h.Aux)
}

func decodeHeader(b []byte) Header {
	return Header{
		Type:     Type(b[0]),
		Flags:    Flags(b[1]),
		StreamID: StreamId(order.Uint32(b[2:6])),
		Aux:      order.Uint32(b[6:10]),
	}
}

// RawFrame is the untyped wire representation every typed frame degrades
// to for serialization; its Type is derivable from the header alone, with
// no knowledge of how it was constructed.
type RawFrame struct {
	Header Header
	Body   []byte
}

func (f RawFrame) String() string {
	return fmt.Sprintf("FRAME[%s id=%d flags=%s aux=%d len=%d]",
		f.Header.Type, f.Header.StreamID, f.Header.Flags, f.Header.Aux, len(f.Body))
}

// MaxBodySize bounds a single Data frame's body so the length prefix (Aux)
// never needs more than 32 bits and so a corrupt peer can't force an
// unbounded allocation when decoding. Callers chunk large writes to this
// size as well (see Stream.Write).
const MaxBodySize = 16 * 1024 * 1024

func ReadFrame(r io.Reader) (RawFrame, error) {
	var hb [headerSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return RawFrame{}, err
	}
	h := decodeHeader(hb[:])
	var body []byte
	if (h.Type == TypeData || h.Type == TypeGoAway) && h.Aux > 0 {
		if h.Aux > MaxBodySize {
			return RawFrame{}, frameSizeError(h.Aux)
		}
		body = make([]byte, h.Aux)
		if _, err := io.ReadFull(r, body); err != nil {
			return RawFrame{}, err
		}
	}
	return RawFrame{Header: h, Body: body}, nil
}

func WriteFrame(w io.Writer, f RawFrame) error {
	var hb [headerSize]byte
	f.Header.encode(hb[:])
	if _, err := w.Write(hb[:]); err != nil {
		return err
	}
	if len(f.Body) > 0 {
		if _, err := w.Write(f.Body); err != nil {
			return err
		}
	}
	return nil
}
