// Package rtpqueue implements the RTP reorder/jitter buffer: a
// sequence-number-keyed packet queue that presents a contiguous,
// in-order byte stream to the extractor driver.
package rtpqueue

import (
	"bytes"
	"io"
	"math"
	"sync"

	"github.com/pion/rtp"
)

// wrapThreshold bounds how far ahead an out-of-order sequence number can
// be before it is treated as a discontinuity (stream restart, SSRC
// switch) rather than ordinary jitter, resetting the expected sequence.
const wrapThreshold = 3000

// Queue is a thread-safe RTP reorder buffer keyed on sequence number.
// Late duplicates are dropped; large discontinuities reset the expected
// sequence; when the pending (out-of-order) set exceeds capacity the
// oldest pending packet is evicted, not the newest, so the freshest
// media is always kept at the cost of a gap.
type Queue struct {
	ClockRate uint32

	// OnLost, if set, is told how many pending packets were dropped by a
	// capacity eviction or a discontinuity reset. Called with the queue
	// lock held; it must not call back into the queue.
	OnLost func(n int)

	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	pending  map[uint16]*rtp.Packet
	expected uint16
	seqInit  bool
	buf      bytes.Buffer
	pkts     []*rtp.Packet
	closed   bool
}

// New allocates a Queue. capacity <= 0 means unbounded pending set.
func New(clockRate uint32, capacity int) *Queue {
	q := &Queue{
		ClockRate: clockRate,
		capacity:  capacity,
		pending:   make(map[uint16]*rtp.Packet),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// seqDiff returns the signed wrap-aware distance a-b.
func seqDiff(a, b uint16) int32 {
	return int32(int16(a - b))
}

// Push enqueues a parsed RTP packet.
func (q *Queue) Push(pkt *rtp.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	if !q.seqInit {
		q.expected = pkt.SequenceNumber
		q.seqInit = true
	}

	diff := seqDiff(pkt.SequenceNumber, q.expected)
	switch {
	case diff < -wrapThreshold, diff > wrapThreshold:
		// large discontinuity: treat as a stream restart rather than jitter
		if len(q.pending) > 0 && q.OnLost != nil {
			q.OnLost(len(q.pending))
		}
		q.pending = make(map[uint16]*rtp.Packet)
		q.expected = pkt.SequenceNumber
	case diff < 0:
		// late duplicate of an already-delivered packet
		return
	}

	if _, dup := q.pending[pkt.SequenceNumber]; dup {
		return
	}

	if q.capacity > 0 && len(q.pending) >= q.capacity {
		q.evictOldest()
	}

	q.pending[pkt.SequenceNumber] = pkt
	q.drainLocked()
	q.cond.Signal()
}

// evictOldest drops the pending packet furthest behind the expected
// sequence (the oldest), preserving the newest media at the cost of a
// gap. If the evicted packet was the one being waited on, the expected
// sequence is bumped past it so draining can resume.
func (q *Queue) evictOldest() {
	var oldestSeq uint16
	oldestDiff := int32(math.MaxInt32)
	found := false

	for seq := range q.pending {
		d := seqDiff(seq, q.expected)
		if d < oldestDiff {
			oldestDiff = d
			oldestSeq = seq
			found = true
		}
	}

	if !found {
		return
	}

	delete(q.pending, oldestSeq)
	if oldestSeq == q.expected {
		q.expected++
	}
	if q.OnLost != nil {
		q.OnLost(1)
	}
}

// drainLocked appends every sequence-contiguous packet starting at
// expected to the output buffer. Must be called with mu held.
func (q *Queue) drainLocked() {
	for {
		pkt, ok := q.pending[q.expected]
		if !ok {
			break
		}
		q.buf.Write(pkt.Payload)
		q.pkts = append(q.pkts, pkt)
		delete(q.pending, q.expected)
		q.expected++
	}
}

// Read implements io.Reader, blocking until in-order data is available
// or the queue is closed (yielding io.EOF).
func (q *Queue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.buf.Len() == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.buf.Len() == 0 {
		return 0, io.EOF
	}

	return q.buf.Read(p)
}

// ReadPacket returns the next in-order RTP packet (not its concatenated
// payload bytes), for extractors that need per-packet framing (marker
// bit, timestamp) rather than a flat byte stream. Blocks until one is
// available or the queue is closed, yielding io.EOF.
func (q *Queue) ReadPacket() (*rtp.Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pkts) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.pkts) == 0 {
		return nil, io.EOF
	}

	pkt := q.pkts[0]
	q.pkts = q.pkts[1:]
	return pkt, nil
}

// Close unblocks any pending Read with end-of-stream.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
	return nil
}

// Pending returns the number of out-of-order packets currently held,
// for diagnostics/tests.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
