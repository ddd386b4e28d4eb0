package frame

// NewWindowUpdate builds a WindowUpdate frame granting credit bytes of
// additional send window to the peer for stream id.
func NewWindowUpdate(id StreamId, credit uint32, syn, fin, rst bool) RawFrame {
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
	return RawFrame{Header: Header{Type: TypeWindowUpdate, Flags: fl, StreamID: id, Aux: credit}}
}

// Credit returns the WindowUpdate frame's credit payload.
func Credit(f RawFrame) uint32 { return f.Header.Aux }
