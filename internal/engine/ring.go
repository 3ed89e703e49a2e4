package engine

import "sync"

// reportRing is the bounded queue between the tick loop and the transport
// writer. When the writer falls behind, push overwrites the oldest entry so
// the freshest reports survive.
type reportRing struct {
	mu      sync.Mutex
	buf     []Output
	head    int
	n       int
	dropped uint64
}

func newReportRing(size int) *reportRing {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &reportRing{buf: make([]Output, size)}
}

func (r *reportRing) push(out Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
		r.n--
		r.dropped++
	}
	r.buf[(r.head+r.n)%len(r.buf)] = out
	r.n++
}

func (r *reportRing) pop() (Output, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return Output{}, false
	}
	out := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return out, true
}

func (r *reportRing) depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *reportRing) droppedCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
