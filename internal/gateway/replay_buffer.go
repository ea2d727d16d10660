package gateway

import (
	"sync"

	"oracle-pricemodel/internal/ringbuf"
)

type replayEntry struct {
	Seq  int64
	Data []byte // pre-built envelope JSON
}

// ReplayBuffer keeps the most recent envelopes of one symbol so clients can
// backfill sequence gaps. Safe for concurrent use.
type ReplayBuffer struct {
	mu   sync.RWMutex
	ring *ringbuf.Ring[replayEntry]
}

// NewReplayBuffer creates a buffer holding capacity envelopes (default 500).
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{ring: ringbuf.New[replayEntry](capacity)}
}

// Push stores an envelope, overwriting the oldest once full. data is not copied.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	rb.ring.PushFront(replayEntry{Seq: seq, Data: data})
	rb.mu.Unlock()
}

// Range returns the envelopes with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out [][]byte
	for i := rb.ring.Len() - 1; i >= 0; i-- {
		e := rb.ring.At(i)
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e.Data)
		}
	}
	return out
}

// Len returns the number of buffered envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.ring.Len()
}
