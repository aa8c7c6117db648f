package mqtt

import "log"

// bufferedMsg is a publish held back until the broker is reachable again.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer holds level change and system events while the broker is
// unreachable, dropping the oldest once full. Metrics never go here.
// The caller synchronizes.
type ringBuffer struct {
	items   []bufferedMsg
	start   int // oldest entry
	n       int
	warned  bool // full-buffer warning logged since the last drain
	dropped int  // entries overwritten since creation
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{items: make([]bufferedMsg, max(capacity, 1))}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	size := len(r.items)
	if r.n < size {
		r.items[(r.start+r.n)%size] = msg
		r.n++
		return
	}

	if !r.warned {
		log.Printf("mqtt: offline buffer full (%d messages), dropping oldest", size)
		r.warned = true
	}
	r.items[r.start] = msg
	r.start = (r.start + 1) % size
	r.dropped++
}

// drainAll returns the buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.n == 0 {
		return nil
	}
	out := make([]bufferedMsg, 0, r.n)
	for i := 0; i < r.n; i++ {
		out = append(out, r.items[(r.start+i)%len(r.items)])
	}
	r.start, r.n, r.warned = 0, 0, false
	return out
}

func (r *ringBuffer) len() int { return r.n }
