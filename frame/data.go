package frame

// NewData builds a Data frame. syn marks the start of a new stream; fin
// half-closes the sender; rst forcibly tears the stream down. ack is set
// by the connection engine itself when flushing an accepted stream's
// pending-ack flag (see the engine's outbound item translation), not by
// this constructor.
func NewData(id StreamId, body []byte, syn, fin, rst bool) RawFrame {
	var fl Flags
	if syn {
		fl.Set(FlagSyn)
	}
	if fin {
		fl.Set(FlagFin)
	}
	if rst {
		fl.Set(FlagRst)
	}
	return RawFrame{
		Header: Header{Type: TypeData, Flags: fl, StreamID: id, Aux: uint32(len(body))},
		Body:   body,
	}
}
