package extractor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aler9/rtsptrack/internal/format"
	"github.com/aler9/rtsptrack/internal/samplequeue"
)

type recordingSink struct {
	existing *samplequeue.Queue
	created  []*samplequeue.Queue
	ended    int
}

func (s *recordingSink) OnTrack(_ int, _ format.Type, q *samplequeue.Queue) *samplequeue.Queue {
	s.created = append(s.created, q)
	if s.existing != nil {
		return s.existing
	}
	return q
}

func (s *recordingSink) OnTracksEnded() { s.ended++ }

func TestDriverOutputCreatesOneQueuePerTrackID(t *testing.T) {
	sink := &recordingSink{}
	o := newDriverOutput(sink)

	a := o.Track(7, format.TypeVideo)
	b := o.Track(7, format.TypeVideo)
	require.Same(t, a, b)
	require.Len(t, sink.created, 1)

	o.EndTracks()
	o.EndTracks()
	require.Equal(t, 1, sink.ended)
}

func TestDriverOutputWritesToSinkCanonicalQueue(t *testing.T) {
	retained := samplequeue.New(16)
	retained.SetUpstreamFormat(format.New(format.Format{Type: format.TypeAudio}))

	sink := &recordingSink{existing: retained}
	o := newDriverOutput(sink)

	out := o.Track(3, format.TypeAudio)
	require.NoError(t, out.WriteSample(samplequeue.Sample{TimestampUs: 42, Flags: samplequeue.FlagKeyframe}))

	require.True(t, retained.IsReady(false), "sample must land in the sink's retained queue")
}
