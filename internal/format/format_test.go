package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitratePrefersPeak(t *testing.T) {
	f := New(Format{AverageBitrate: 100, PeakBitrate: 200})
	require.EqualValues(t, 200, f.Bitrate())

	g := New(Format{AverageBitrate: 100, PeakBitrate: NoValue})
	require.EqualValues(t, 100, g.Bitrate())
}

func TestEqualImpliesSameHash(t *testing.T) {
	a := New(Format{
		ID: "1", SampleMIME: "audio/mp4a-latm",
		InitializationData: [][]byte{{1, 2, 3}},
	})
	b := New(Format{
		ID: "1", SampleMIME: "audio/mp4a-latm",
		InitializationData: [][]byte{{1, 2, 3}},
	})

	require.True(t, a.Equal(b))
	require.Equal(t, a.Hash(), b.Hash())
}

func TestHashExcludesInitializationDataButEqualityIncludesIt(t *testing.T) {
	a := New(Format{ID: "1", InitializationData: [][]byte{{1}}})
	b := New(Format{ID: "1", InitializationData: [][]byte{{2}}})

	require.Equal(t, a.Hash(), b.Hash())
	require.False(t, a.Equal(b))
}

func TestManifestMergeCodecFiltering(t *testing.T) {
	sample := New(Format{
		Type:       TypeAudio,
		SampleMIME: "audio/mp4a-latm",
	})
	manifest := New(Format{
		Codecs: "avc1.42E01E,mp4a.40.2",
	})

	merged := sample.WithManifestFormatInfo(manifest)
	require.Equal(t, "mp4a.40.2", merged.Codecs)
}

func TestManifestMergeCodecFilterAmbiguousIsDropped(t *testing.T) {
	sample := New(Format{
		Type:       TypeAudio,
		SampleMIME: "audio/mp4a-latm",
	})
	manifest := New(Format{
		Codecs: "mp4a.40.2,opus",
	})

	merged := sample.WithManifestFormatInfo(manifest)
	require.Equal(t, "", merged.Codecs)
}

func TestManifestMergeFlagsCommuteAcrossOrder(t *testing.T) {
	sample := New(Format{SelectionFlags: 0b001})
	manifest := New(Format{SelectionFlags: 0b010})

	a := sample.WithManifestFormatInfo(manifest)

	sample2 := New(Format{SelectionFlags: 0b010})
	manifest2 := New(Format{SelectionFlags: 0b001})
	b := sample2.WithManifestFormatInfo(manifest2)

	require.Equal(t, a.SelectionFlags, b.SelectionFlags)
	require.Equal(t, uint32(0b011), a.SelectionFlags)
}

func TestWithContainerInfoAppendsMetadata(t *testing.T) {
	f := New(Format{Metadata: [][]byte{{1}}})
	merged := f.WithContainerInfo("", "", "", "", [][]byte{{2}}, 0, 0, 0, 0, 0, "")
	require.Equal(t, [][]byte{{1}, {2}}, merged.Metadata)
}

func TestVideoDefaultsCoerced(t *testing.T) {
	f := New(Format{
		Type:  TypeVideo,
		Video: &Video{FrameRate: NoValue, PixelWidthHeightRatio: NoValue},
	})
	require.EqualValues(t, 0, f.Video.FrameRate)
	require.EqualValues(t, 1, f.Video.PixelWidthHeightRatio)
	require.EqualValues(t, 0, f.Video.Rotation)
}
