package frame

import "io"

// Framer serializes and deserializes RawFrames over an underlying
// transport: decode produces a RawFrame the engine classifies without
// copying into a different representation.
type Framer interface {
	WriteFrame(RawFrame) error
	ReadFrame() (RawFrame, error)
}

type framer struct {
	r io.Reader
	w io.Writer
}

func (fr *framer) WriteFrame(f RawFrame) error { return WriteFrame(fr.w, f) }
func (fr *framer) ReadFrame() (RawFrame, error) { return ReadFrame(fr.r) }

// NewFramer is the default Framer constructor; Config.NewFramer defaults
// to it.
func NewFramer(r io.Reader, w io.Writer) Framer {
	return &framer{r: r, w: w}
}
