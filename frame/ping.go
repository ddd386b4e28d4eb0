package frame

// NewPing builds a session-level Ping (or, with ack set, its Pong reply)
// carrying the given nonce, always addressed to the session id (0).
func NewPing(nonce uint32, ack bool) RawFrame {
	var fl Flags
	if ack {
		fl.Set(FlagAck)
	}
	return RawFrame{Header: Header{Type: TypePing, Flags: fl, StreamID: 0, Aux: nonce}}
}

// Nonce returns a Ping frame's echoed value.
func Nonce(f RawFrame) uint32 { return f.Header.Aux }
