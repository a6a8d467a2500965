package gateway

import (
	"sync"

	"signal-engine/internal/ringbuf"
)

// replayEntry holds a single broadcasted message for replay.
type replayEntry struct {
	Seq  int64
	Data []byte // pre-built envelope JSON
}

// ReplayBuffer keeps the most recent envelopes so a reconnecting client
// can catch up from the last sequence number it saw.
// Thread-safe for concurrent writes and reads.
type ReplayBuffer struct {
	mu  sync.RWMutex
	win *ringbuf.Window[replayEntry]
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{win: ringbuf.New[replayEntry](capacity)}
}

// Push appends an envelope. The oldest entry is dropped when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	rb.win.Push(replayEntry{Seq: seq, Data: cp})
	rb.mu.Unlock()
}

// After returns the envelopes with seq > afterSeq, oldest first.
func (rb *ReplayBuffer) After(afterSeq int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out [][]byte
	rb.win.Do(func(e replayEntry) {
		if e.Seq > afterSeq {
			out = append(out, e.Data)
		}
	})
	return out
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.win.Len()
}
