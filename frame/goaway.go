package frame

// goAwayFixedLen is the size of GoAway's fixed body prefix: a 4-byte
// last-handled stream id followed by a 4-byte error code. Any bytes past
// this prefix are an opaque debug payload the sender attached.
const goAwayFixedLen = 8

// NewGoAway builds a session-level GoAway reporting the highest
// remotely-initiated stream id this side has handled, an error code (the
// only defined one is ECODE_PROTO; NoError is used for a clean local
// shutdown), and an optional debug payload describing why.
func NewGoAway(lastStreamID StreamId, errorCode uint32, debug []byte) RawFrame {
	body := make([]byte, goAwayFixedLen+len(debug))
	order.PutUint32(body[0:4], uint32(lastStreamID))
	order.PutUint32(body[4:8], errorCode)
	copy(body[goAwayFixedLen:], debug)
	return RawFrame{
		Header: Header{Type: TypeGoAway, StreamID: 0, Aux: uint32(len(body))},
		Body:   body,
	}
}

// LastStreamId returns the highest stream id the sender reports handling
// before giving up.
func LastStreamId(f RawFrame) StreamId {
	if len(f.Body) < goAwayFixedLen {
		return 0
	}
	return StreamId(order.Uint32(f.Body[0:4]))
}

// ErrorCode returns a GoAway frame's error code payload.
func ErrorCode(f RawFrame) uint32 {
	if len(f.Body) < goAwayFixedLen {
		return 0
	}
	return order.Uint32(f.Body[4:8])
}

// Debug returns the GoAway frame's trailing debug bytes, if any.
func Debug(f RawFrame) []byte {
	if len(f.Body) <= goAwayFixedLen {
		return nil
	}
	return f.Body[goAwayFixedLen:]
}
