package samplequeue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aler9/rtsptrack/internal/format"
)

func fillKeyframeTimeline(t *testing.T, q *Queue) {
	t.Helper()
	f := format.New(format.Format{ID: "v0"})
	q.SetUpstreamFormat(f)

	require.NoError(t, q.Append(Sample{TimestampUs: 0, Flags: FlagKeyframe}))
	require.NoError(t, q.Append(Sample{TimestampUs: 500_000}))
	require.NoError(t, q.Append(Sample{TimestampUs: 1_000_000, Flags: FlagKeyframe}))
	require.NoError(t, q.Append(Sample{TimestampUs: 1_500_000}))
	require.NoError(t, q.Append(Sample{TimestampUs: 2_000_000, Flags: FlagKeyframe}))
	require.NoError(t, q.Append(Sample{TimestampUs: 2_500_000}))
}

func TestInBufferSeekLandsOnPrecedingKeyframe(t *testing.T) {
	q := New(0)
	fillKeyframeTimeline(t, q)

	ok := q.SeekTo(1_500_000, false)
	require.True(t, ok)

	status, _, s := q.Read(true, false, 0)
	require.Equal(t, FormatRead, status)

	status, _, s = q.Read(false, false, 0)
	require.Equal(t, BufferRead, status)
	require.EqualValues(t, 1_000_000, s.TimestampUs)
	require.True(t, s.IsKeyframe())
}

func TestOutOfBufferSeekReturnsTrueAndDrainsBuffer(t *testing.T) {
	q := New(0)
	fillKeyframeTimeline(t, q)

	ok := q.SeekTo(10_000_000, true)
	require.True(t, ok)

	require.True(t, q.IsReady(true))
	require.False(t, q.IsReady(false))
}

func TestLargestQueuedTimestampIsMonotonicWithinEpoch(t *testing.T) {
	q := New(0)
	fillKeyframeTimeline(t, q)
	require.EqualValues(t, 2_500_000, q.LargestQueuedTimestampUs())

	require.NoError(t, q.Append(Sample{TimestampUs: 3_000_000}))
	require.EqualValues(t, 3_000_000, q.LargestQueuedTimestampUs())
}

func TestResetRequiresFormatReannouncement(t *testing.T) {
	q := New(0)
	fillKeyframeTimeline(t, q)

	status, _, _ := q.Read(false, false, 0)
	require.Equal(t, FormatRead, status)
	status, _, _ = q.Read(false, false, 0)
	require.Equal(t, BufferRead, status)

	q.Reset()
	require.EqualValues(t, format.NoValue, q.LargestQueuedTimestampUs())

	f := format.New(format.Format{ID: "v0"})
	q.SetUpstreamFormat(f)
	require.NoError(t, q.Append(Sample{TimestampUs: 0, Flags: FlagKeyframe}))

	status, _, _ = q.Read(false, false, 0)
	require.Equal(t, FormatRead, status, "format must be re-announced after reset even though it is unchanged")
}

func TestDiscardToKeyframeKeepsLatestKeyframeAndAfter(t *testing.T) {
	q := New(0)
	fillKeyframeTimeline(t, q)

	q.DiscardTo(1_200_000, true, false)

	// first entry should now be the keyframe at 1_000_000
	q.SeekTo(1_000_000, false)
	_, _, _ = q.Read(true, false, 0)
	status, _, s := q.Read(false, false, 0)
	require.Equal(t, BufferRead, status)
	require.EqualValues(t, 1_000_000, s.TimestampUs)
}

func TestDiscardToEndDropsEverythingIncludingUnread(t *testing.T) {
	q := New(0)
	fillKeyframeTimeline(t, q)

	q.DiscardToEnd()
	require.False(t, q.IsReady(false))
	require.True(t, q.IsReady(true))
}

func TestIsReadyWithAndWithoutLoadingFinished(t *testing.T) {
	q := New(0)
	f := format.New(format.Format{ID: "a0"})
	q.SetUpstreamFormat(f)

	require.False(t, q.IsReady(false))
	require.True(t, q.IsReady(true))

	require.NoError(t, q.Append(Sample{TimestampUs: 0, Flags: FlagKeyframe}))
	require.True(t, q.IsReady(false))
}

func TestAppendBeforeFormatAnnouncedFails(t *testing.T) {
	q := New(0)
	err := q.Append(Sample{TimestampUs: 0})
	require.ErrorIs(t, err, ErrNoFormat)
}

func TestAppendAfterReleaseFails(t *testing.T) {
	q := New(0)
	f := format.New(format.Format{ID: "a0"})
	q.SetUpstreamFormat(f)
	q.Release()

	err := q.Append(Sample{TimestampUs: 0})
	require.ErrorIs(t, err, ErrReleased)
}
