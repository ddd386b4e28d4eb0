package mux

// Item is the tagged union a Stream pushes into the connection's shared
// mailbox, and the same union the engine delivers into a stream's inbox.
// Both directions reuse the same four variants.
type Item interface {
	isItem()
}

// DataItem carries a contiguous chunk of stream payload.
type DataItem struct{ Body []byte }

// WindowUpdateItem grants additional send credit, outbound when a Stream
// re-credits the peer, inbound when the peer re-credits us.
type WindowUpdateItem struct{ Credit uint32 }

// FinishItem half-closes the stream in the direction it travels.
type FinishItem struct{}

// ResetItem forcibly tears the stream down.
type ResetItem struct{}

func (DataItem) isItem()         {}
func (WindowUpdateItem) isItem() {}
func (FinishItem) isItem()       {}
func (ResetItem) isItem()        {}
