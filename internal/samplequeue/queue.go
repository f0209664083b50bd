package samplequeue

import (
	"errors"
	"sync"

	"github.com/aler9/rtsptrack/internal/format"
)

// ErrReleased is returned by Append after Release.
var ErrReleased = errors.New("samplequeue: released")

// ErrNoFormat is returned by Append before the producer has announced an
// upstream format via SetUpstreamFormat.
var ErrNoFormat = errors.New("samplequeue: no upstream format announced yet")

type entry struct {
	format *format.Format
	sample Sample
}

// Queue is a single-writer, multi-reader ring buffer of samples.
//
// Writes are totally ordered by append order and visible to readers in
// that order; a reader never observes a partially appended sample
// because every mutation holds the same mutex. Format-change markers
// are not stored as separate entries: each entry carries the format
// that was current at append time, and Read detects a boundary by
// comparing against the last format delivered to the reader.
type Queue struct {
	mu sync.Mutex

	entries   []entry
	readIndex int

	upstreamFormat      *format.Format
	lastDeliveredFormat *format.Format
	listener            UpstreamFormatChangeListener

	hasLargest               bool
	largestQueuedTimestampUs int64

	maxCapacity int
	closed      bool
}

// New allocates a Queue. maxCapacity <= 0 means unbounded.
func New(maxCapacity int) *Queue {
	return &Queue{maxCapacity: maxCapacity}
}

// SetUpstreamFormatChangeListener installs l, which is invoked
// synchronously from SetUpstreamFormat whenever the announced format
// changes.
func (q *Queue) SetUpstreamFormatChangeListener(l UpstreamFormatChangeListener) {
	q.mu.Lock()
	q.listener = l
	q.mu.Unlock()
}

// SetUpstreamFormat announces the format that subsequent Append calls
// will be tagged with. Called by the extractor driver (the sole writer)
// whenever the upstream format changes.
func (q *Queue) SetUpstreamFormat(f *format.Format) {
	q.mu.Lock()
	changed := q.upstreamFormat == nil || !q.upstreamFormat.Equal(f)
	q.upstreamFormat = f
	listener := q.listener
	q.mu.Unlock()

	if changed && listener != nil {
		listener.OnUpstreamFormatChanged(f)
	}
}

// UpstreamFormat returns the most recently announced format, or nil if
// none has been announced yet.
func (q *Queue) UpstreamFormat() *format.Format {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.upstreamFormat
}

// Append adds a sample to the queue. O(1) amortized; updates the
// largest-queued timestamp.
func (q *Queue) Append(s Sample) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrReleased
	}
	if q.upstreamFormat == nil {
		return ErrNoFormat
	}

	q.entries = append(q.entries, entry{format: q.upstreamFormat, sample: s})

	if !q.hasLargest || s.TimestampUs > q.largestQueuedTimestampUs {
		q.largestQueuedTimestampUs = s.TimestampUs
		q.hasLargest = true
	}

	// Backpressure: never drop unread samples, only trim the already-read
	// prefix once it grows past capacity. Matches the spec's note that
	// the network reader is never blocked on sample-queue fullness.
	if q.maxCapacity > 0 && q.readIndex > q.maxCapacity {
		q.entries = q.entries[q.readIndex:]
		q.readIndex = 0
	}

	return nil
}

// IsReady reports whether a sample, or end-of-stream (when
// loadingFinished), is available to read.
func (q *Queue) IsReady(loadingFinished bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readIndex < len(q.entries) || loadingFinished
}

// Read advances the read cursor and returns the next readable item.
//
// requireFormat forces the pending format to be (re-)delivered before
// the next sample, even if it did not change since the last delivery.
// resetOffsetUs is added to the returned sample's timestamp, letting a
// discontinuity be absorbed without rewriting buffered samples.
func (q *Queue) Read(requireFormat bool, loadingFinished bool, resetOffsetUs int64) (Status, *format.Format, *Sample) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pendingFormat := q.upstreamFormat
	if q.readIndex < len(q.entries) {
		pendingFormat = q.entries[q.readIndex].format
	}

	if pendingFormat != nil && (requireFormat || q.lastDeliveredFormat == nil || !q.lastDeliveredFormat.Equal(pendingFormat)) {
		q.lastDeliveredFormat = pendingFormat
		return FormatRead, pendingFormat, nil
	}

	if q.readIndex >= len(q.entries) {
		if loadingFinished {
			return EndOfStream, nil, nil
		}
		return NothingRead, nil, nil
	}

	e := q.entries[q.readIndex]
	q.readIndex++

	out := e.sample
	out.TimestampUs += resetOffsetUs
	return BufferRead, nil, &out
}

// AdvanceTo skips buffered samples with timestamp < positionUs,
// returning the count skipped. Capped at the available range: it never
// advances past what has been appended.
func (q *Queue) AdvanceTo(positionUs int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for q.readIndex < len(q.entries) && q.entries[q.readIndex].sample.TimestampUs < positionUs {
		q.readIndex++
		count++
	}
	return count
}

// AdvanceToEnd flushes all currently readable samples without
// discarding their storage, returning the count flushed.
func (q *Queue) AdvanceToEnd() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := len(q.entries) - q.readIndex
	q.readIndex = len(q.entries)
	return count
}

// SeekTo repositions the read cursor at the latest keyframe with
// timestamp <= positionUs. Returns true on success. If allowBeyondBuffer
// is set and positionUs is beyond the largest queued timestamp, the
// cursor is advanced to the end of the buffer and true is returned
// (the caller is expected to drive an out-of-buffer reset separately).
func (q *Queue) SeekTo(positionUs int64, allowBeyondBuffer bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.hasLargest && positionUs <= q.largestQueuedTimestampUs {
		keyframeIdx := -1
		for i := 0; i < len(q.entries); i++ {
			s := q.entries[i].sample
			if s.TimestampUs <= positionUs && s.IsKeyframe() {
				keyframeIdx = i
			}
		}
		if keyframeIdx >= 0 {
			q.readIndex = keyframeIdx
			return true
		}
		// positionUs falls within the buffered span but precedes every
		// keyframe: nothing decodable to seek to.
		return false
	}

	if allowBeyondBuffer {
		q.readIndex = len(q.entries)
		return true
	}

	return false
}

// DiscardTo removes buffered entries up to positionUs. When toKeyframe
// is set, only entries strictly before the latest in-range keyframe are
// removed (non-keyframes are never left stranded ahead of the keyframe
// that would be needed to decode from). When stopAtReadPosition is set,
// discard never proceeds past the current read cursor, so not-yet-read
// (enabled track) samples are preserved.
func (q *Queue) DiscardTo(positionUs int64, toKeyframe bool, stopAtReadPosition bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	limit := len(q.entries)
	if stopAtReadPosition {
		limit = q.readIndex
	}

	cut := 0
	if toKeyframe {
		keyframeIdx := -1
		for i := 0; i < limit; i++ {
			s := q.entries[i].sample
			if s.TimestampUs <= positionUs && s.IsKeyframe() {
				keyframeIdx = i
			}
		}
		if keyframeIdx > 0 {
			cut = keyframeIdx
		}
	} else {
		for cut < limit && q.entries[cut].sample.TimestampUs <= positionUs {
			cut++
		}
	}

	if cut > 0 {
		q.entries = q.entries[cut:]
		q.readIndex -= cut
		if q.readIndex < 0 {
			q.readIndex = 0
		}
	}
}

// DiscardToEnd discards the entire buffer, including unread samples.
// Used when a seek target falls outside the buffer: nothing queued is
// usable, so it is all dropped rather than retained.
func (q *Queue) DiscardToEnd() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = nil
	q.readIndex = 0
}

// LargestQueuedTimestampUs returns the largest timestamp appended since
// construction or the last Reset, or format.NoValue if nothing has been
// appended yet.
func (q *Queue) LargestQueuedTimestampUs() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.hasLargest {
		return format.NoValue
	}
	return q.largestQueuedTimestampUs
}

// Reset empties the queue and requires a format re-announcement before
// the next sample can be read, even if the upstream format is
// unchanged.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = nil
	q.readIndex = 0
	q.lastDeliveredFormat = nil
	q.hasLargest = false
	q.largestQueuedTimestampUs = 0
}

// Release permanently disables the queue.
func (q *Queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = nil
	q.closed = true
}
