package mux

import (
	"io"
	"sync"

	"github.com/flowmux/mux/frame"
	"github.com/flowmux/mux/log"
)

var zeroConfig Config

func init() {
	zeroConfig.initDefaults()
}

// Config configures a Connection. The zero value is valid; initDefaults
// fills in defaults for any unset field exactly once.
type Config struct {
	// ReceiveWindow is the initial per-stream receive credit, and the cap
	// on an inbound SYN's initial body size. Default 256KB.
	ReceiveWindow uint32

	// AcceptBacklog bounds the number of remotely-opened streams queued
	// for AcceptStream. When the queue is full, the drive loop blocks until
	// a stream is accepted or the connection is closed. Default 128.
	AcceptBacklog uint32

	// NewFramer constructs the Connection's frame codec. Default frame.NewFramer.
	NewFramer func(io.Reader, io.Writer) frame.Framer

	// Logger receives structured diagnostic events from the connection.
	// Defaults to a no-op logger.
	Logger log.Logger

	// Metrics receives counters for frames/streams/go-aways. Defaults to
	// a no-op collector if nil.
	Metrics *Metrics

	// ctrlQueueDepth is the capacity of the Ctrl command mailbox.
	ctrlQueueDepth int

	// streamItemQueueDepth is the capacity of the shared stream mailbox,
	// and the default per-stream inbox capacity.
	streamItemQueueDepth int

	initOnce sync.Once
}

func (c *Config) initDefaults() {
	c.initOnce.Do(func() {
		if c.ReceiveWindow == 0 {
			c.ReceiveWindow = 0x40000 // 256KB
		}
		if c.AcceptBacklog == 0 {
			c.AcceptBacklog = 128
		}
		if c.NewFramer == nil {
			c.NewFramer = frame.NewFramer
		}
		if c.Logger == nil {
			c.Logger = log.NopLogger{}
		}
		if c.Metrics == nil {
			c.Metrics = NopMetrics()
		}
		if c.ctrlQueueDepth == 0 {
			c.ctrlQueueDepth = 1024
		}
		if c.streamItemQueueDepth == 0 {
			c.streamItemQueueDepth = 256
		}
	})
}
