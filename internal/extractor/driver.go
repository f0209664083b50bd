package extractor

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aler9/rtsptrack/internal/format"
	"github.com/aler9/rtsptrack/internal/samplequeue"
)

// defaultSampleQueueCapacity is the per-track ring-buffer size used
// when no explicit capacity is configured.
const defaultSampleQueueCapacity = 2048

// queueTrackOutput adapts a samplequeue.Queue into a TrackOutput.
type queueTrackOutput struct {
	queue *samplequeue.Queue
}

func (q *queueTrackOutput) SetFormat(f *format.Format) {
	q.queue.SetUpstreamFormat(f)
}

func (q *queueTrackOutput) WriteSample(s samplequeue.Sample) error {
	return q.queue.Append(s)
}

// TrackSink receives the per-track queues the driver creates, in
// discovery order, plus the end-of-discovery signal. OnTrack returns
// the queue the driver must write to: normally the one passed in, but
// a sink that already holds a queue for id (a failover loadable
// re-discovering tracks) returns the retained one so buffered samples
// and new samples share a single queue.
type TrackSink interface {
	OnTrack(id int, trackType format.Type, queue *samplequeue.Queue) *samplequeue.Queue
	OnTracksEnded()
}

// driverOutput implements Output on top of a TrackSink, lazily creating
// one SampleQueue per track id. The track type is passed on to the sink
// but is not part of the key: a second Track call with a known id and a
// different type returns the existing output.
type driverOutput struct {
	sink TrackSink

	mu     sync.Mutex
	tracks map[int]*queueTrackOutput
	ended  bool
}

func newDriverOutput(sink TrackSink) *driverOutput {
	return &driverOutput{sink: sink, tracks: make(map[int]*queueTrackOutput)}
}

func (o *driverOutput) Track(id int, trackType format.Type) TrackOutput {
	o.mu.Lock()
	defer o.mu.Unlock()

	if t, ok := o.tracks[id]; ok {
		return t
	}

	q := o.sink.OnTrack(id, trackType, samplequeue.New(defaultSampleQueueCapacity))
	t := &queueTrackOutput{queue: q}
	o.tracks[id] = t
	return t
}

func (o *driverOutput) EndTracks() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ended {
		return
	}
	o.ended = true
	o.sink.OnTracksEnded()
}

// Driver wraps a single selected Extractor whose yields become
// sample-queue writes via a TrackSink. Each RunOnce call performs one
// Read iteration; the caller owns the loop around it.
type Driver struct {
	extractor Extractor
	output    *driverOutput
}

// NewDriverFor constructs a Driver around an already-selected Extractor
// (the result of Select), binding its Output to sink.
func NewDriverFor(ex Extractor, sink TrackSink) (*Driver, error) {
	output := newDriverOutput(sink)
	if err := ex.Init(output); err != nil {
		return nil, fmt.Errorf("extractor init: %w", err)
	}
	return &Driver{extractor: ex, output: output}, nil
}

// RunOnce performs a single Read iteration, returning the extractor's
// Result. Callers (the Loader's load task) drive this in a loop until
// ResultEndOfInput or an error.
func (d *Driver) RunOnce(src Source) (Result, error) {
	var holder PositionHolder
	res, err := d.extractor.Read(src, &holder)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ResultEndOfInput, nil
		}
		return res, err
	}
	return res, nil
}

// Seek forwards to the bound extractor.
func (d *Driver) Seek(positionUs int64) error {
	return d.extractor.Seek(positionUs)
}

// Release forwards to the bound extractor.
func (d *Driver) Release() {
	d.extractor.Release()
}
