package mux

import "sync/atomic"

// recvWindow is a shared atomic counter the engine only ever reads (for
// the inbound-overflow probe in deliver) and the Stream alone writes,
// decrementing as it accepts inbound data into its buffer and
// re-crediting as the application reads it back out.
type recvWindow struct {
	n int64
}

func newRecvWindow(initial uint32) *recvWindow {
	return &recvWindow{n: int64(initial)}
}

func (w *recvWindow) get() int64 {
	return atomic.LoadInt64(&w.n)
}

func (w *recvWindow) add(delta int64) {
	atomic.AddInt64(&w.n, delta)
}

// sendWindow tracks a Stream's own outbound credit: how many bytes it may
// still write before it must wait for a WindowUpdate from the peer. It is
// local to the Stream (never shared with the engine), so a condition
// variable is enough.
type sendWindow struct {
	mu   chan struct{} // binary semaphore, buffered(1)
	cond chan struct{} // closed and replaced each time credit becomes available
	n    int64
	err  error
}

func newSendWindow(initial uint32) *sendWindow {
	w := &sendWindow{
		mu:   make(chan struct{}, 1),
		cond: make(chan struct{}),
		n:    int64(initial),
	}
	w.mu <- struct{}{}
	return w
}

func (w *sendWindow) lock()   { <-w.mu }
func (w *sendWindow) unlock() { w.mu <- struct{}{} }

// increment adds credit granted by a peer WindowUpdate and wakes any
// writer blocked in decrement.
func (w *sendWindow) increment(n int64) {
	w.lock()
	w.n += n
	close(w.cond)
	w.cond = make(chan struct{})
	w.unlock()
}

func (w *sendWindow) setError(err error) {
	w.lock()
	if w.err == nil {
		w.err = err
	}
	close(w.cond)
	w.cond = make(chan struct{})
	w.unlock()
}

// decrement blocks until at least one byte of credit is available (or the
// window is in error) and returns up to want bytes of newly-claimed
// credit, mirroring condWindow.Decrement's partial-grant behavior.
func (w *sendWindow) decrement(want int64) (int64, error) {
	for {
		w.lock()
		if w.err != nil {
			err := w.err
			w.unlock()
			return 0, err
		}
		if w.n > 0 {
			got := want
			if got > w.n {
				got = w.n
			}
			w.n -= got
			w.unlock()
			return got, nil
		}
		wait := w.cond
		w.unlock()
		<-wait
	}
}
