package rtpqueue

import (
	"io"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func pkt(seq uint16, payload string) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{SequenceNumber: seq},
		Payload: []byte(payload),
	}
}

func TestInOrderPacketsYieldContiguousBytes(t *testing.T) {
	q := New(90000, 0)
	q.Push(pkt(0, "aa"))
	q.Push(pkt(1, "bb"))

	buf := make([]byte, 4)
	n, err := q.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "aabb", string(buf[:n]))
}

func TestOutOfOrderPacketsAreReordered(t *testing.T) {
	q := New(90000, 0)
	q.Push(pkt(1, "bb"))
	q.Push(pkt(0, "aa"))

	buf := make([]byte, 4)
	n, err := q.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "aabb", string(buf[:n]))
}

func TestLateDuplicateIsDropped(t *testing.T) {
	q := New(90000, 0)
	q.Push(pkt(0, "aa"))
	q.Push(pkt(1, "bb"))

	buf := make([]byte, 4)
	_, _ = q.Read(buf)

	q.Push(pkt(0, "zz")) // late duplicate, must not reappear
	require.Zero(t, q.Pending())
}

func TestCloseUnblocksReaderWithEOF(t *testing.T) {
	q := New(90000, 0)
	q.Close()

	buf := make([]byte, 4)
	_, err := q.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestCapacityEvictsOldestNotNewest(t *testing.T) {
	q := New(90000, 2)

	// skip seq 0 so all three remain "pending" (out of order), forcing eviction
	q.Push(pkt(1, "b"))
	q.Push(pkt(2, "c"))
	q.Push(pkt(3, "d")) // should evict seq 1 (oldest pending), not seq 3

	require.LessOrEqual(t, q.Pending(), 2)

	q.Push(pkt(0, "a"))
	buf := make([]byte, 8)
	n, err := q.Read(buf)
	require.NoError(t, err)
	// seq 1 was evicted, so the stream has a gap and only "a" drains
	// before the reorder buffer stalls again waiting for seq 1.
	require.Equal(t, "a", string(buf[:n]))
}
