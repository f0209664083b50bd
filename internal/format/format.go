// Package format defines the immutable media format descriptor shared by
// extractors, sample queues and the track-group API.
//
// Rather than one mega-struct of video/audio/text/image fields with
// sentinel "not applicable" values, Format is a tagged variant: shared identity/codec/DRM fields live on Format itself,
// and category-specific fields live in an optional Video/Audio/Text
// payload selected by Type.
package format

import (
	"bytes"
	"math"
)

// NoValue is the sentinel for "unknown/not applicable" integer fields.
const NoValue = -1

// SampleRelative is the sentinel meaning subsample timestamps are
// relative to the parent sample rather than absolute.
const SampleRelative = int64(math.MaxInt64)

// Type identifies which category payload a Format carries.
type Type int

// Track types.
const (
	TypeUnknown Type = iota
	TypeVideo
	TypeAudio
	TypeText
	TypeImage
)

// ColorInfo carries HDR/color-space metadata for video formats.
type ColorInfo struct {
	ColorSpace      int
	ColorRange      int
	ColorTransfer   int
	HdrStaticInfo   []byte
}

// Video holds fields applicable only to video tracks.
type Video struct {
	Width                 int
	Height                int
	FrameRate             float64 // NoValue-as-float (<0) until coerced
	Rotation              int     // one of 0, 90, 180, 270
	PixelWidthHeightRatio float64
	Projection            []byte
	StereoMode            int
	Color                 *ColorInfo
}

// Audio holds fields applicable only to audio tracks.
type Audio struct {
	ChannelCount   int
	SampleRate     int
	PCMEncoding    int
	EncoderDelay   int
	EncoderPadding int
}

// Text holds fields applicable only to text tracks.
type Text struct {
	AccessibilityChannel int
}

// Format is an immutable descriptor of one elementary media stream.
type Format struct {
	Type Type

	// identity
	ID             string
	Label          string
	Language       string // IETF BCP-47, normalized
	SelectionFlags uint32
	RoleFlags      uint32

	// bitrate
	AverageBitrate int64
	PeakBitrate    int64

	// codec identity
	Codecs             string // RFC 6381
	ContainerMIME      string
	SampleMIME         string
	Metadata           [][]byte
	InitializationData [][]byte

	// DRM
	DRMInitData []byte
	CryptoType  string

	Video *Video
	Audio *Audio
	Text  *Text

	// subsample
	SubsampleOffsetUs int64

	hash      uint64
	hashValid bool
}

// New constructs a Format, coercing NoValue/zero sentinels to defaults.
func New(f Format) *Format {
	out := f

	if out.Video != nil {
		v := *out.Video
		if v.FrameRate < 0 {
			v.FrameRate = 0
		}
		if v.PixelWidthHeightRatio <= 0 {
			v.PixelWidthHeightRatio = 1
		}
		switch v.Rotation {
		case 0, 90, 180, 270:
		default:
			v.Rotation = 0
		}
		out.Video = &v
	}

	if out.Audio != nil {
		a := *out.Audio
		out.Audio = &a
	}

	if out.SubsampleOffsetUs == 0 {
		out.SubsampleOffsetUs = NoValue
	}

	out.hashValid = false
	return &out
}

// Bitrate returns PeakBitrate if set, else AverageBitrate.
func (f *Format) Bitrate() int64 {
	if f.PeakBitrate != NoValue {
		return f.PeakBitrate
	}
	return f.AverageBitrate
}

func bytesSliceEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func colorEqual(a, b *ColorInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ColorSpace == b.ColorSpace && a.ColorRange == b.ColorRange &&
		a.ColorTransfer == b.ColorTransfer && bytes.Equal(a.HdrStaticInfo, b.HdrStaticInfo)
}

func videoEqual(a, b *Video) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Width == b.Width && a.Height == b.Height && a.FrameRate == b.FrameRate &&
		a.Rotation == b.Rotation && a.PixelWidthHeightRatio == b.PixelWidthHeightRatio &&
		bytes.Equal(a.Projection, b.Projection) && a.StereoMode == b.StereoMode &&
		colorEqual(a.Color, b.Color)
}

func audioEqual(a, b *Audio) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func textEqual(a, b *Text) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Equal reports whether f and g describe the same format. All fields
// participate, including byte-array fields (compared by content).
func (f *Format) Equal(g *Format) bool {
	if f == g {
		return true
	}
	if f == nil || g == nil {
		return false
	}
	return f.Type == g.Type &&
		f.ID == g.ID &&
		f.Label == g.Label &&
		f.Language == g.Language &&
		f.SelectionFlags == g.SelectionFlags &&
		f.RoleFlags == g.RoleFlags &&
		f.AverageBitrate == g.AverageBitrate &&
		f.PeakBitrate == g.PeakBitrate &&
		f.Codecs == g.Codecs &&
		f.ContainerMIME == g.ContainerMIME &&
		f.SampleMIME == g.SampleMIME &&
		bytesSliceEqual(f.Metadata, g.Metadata) &&
		bytesSliceEqual(f.InitializationData, g.InitializationData) &&
		bytes.Equal(f.DRMInitData, g.DRMInitData) &&
		f.CryptoType == g.CryptoType &&
		videoEqual(f.Video, g.Video) &&
		audioEqual(f.Audio, g.Audio) &&
		textEqual(f.Text, g.Text) &&
		f.SubsampleOffsetUs == g.SubsampleOffsetUs
}

// Hash returns a hash of f, lazily memoized. It deliberately excludes
// InitializationData, DRMInitData, video Projection and video Color:
// these are expensive to hash and rarely discriminating, while equality
// (Equal) still considers them.
func (f *Format) Hash() uint64 {
	if f.hashValid {
		return f.hash
	}

	h := fnvOffset
	h = hashString(h, f.ID)
	h = hashString(h, f.Label)
	h = hashString(h, f.Language)
	h = hashUint32(h, f.SelectionFlags)
	h = hashUint32(h, f.RoleFlags)
	h = hashInt64(h, f.AverageBitrate)
	h = hashInt64(h, f.PeakBitrate)
	h = hashString(h, f.Codecs)
	h = hashString(h, f.ContainerMIME)
	h = hashString(h, f.SampleMIME)
	h = hashString(h, f.CryptoType)
	h = hashInt64(h, f.SubsampleOffsetUs)
	h = hashInt64(h, int64(f.Type))

	if f.Video != nil {
		v := f.Video
		h = hashInt64(h, int64(v.Width))
		h = hashInt64(h, int64(v.Height))
		h = hashInt64(h, int64(v.FrameRate*1000))
		h = hashInt64(h, int64(v.Rotation))
		h = hashInt64(h, int64(v.StereoMode))
	}
	if f.Audio != nil {
		a := f.Audio
		h = hashInt64(h, int64(a.ChannelCount))
		h = hashInt64(h, int64(a.SampleRate))
		h = hashInt64(h, int64(a.PCMEncoding))
		h = hashInt64(h, int64(a.EncoderDelay))
		h = hashInt64(h, int64(a.EncoderPadding))
	}
	if f.Text != nil {
		h = hashInt64(h, int64(f.Text.AccessibilityChannel))
	}

	f.hash = h
	f.hashValid = true
	return h
}

const fnvOffset = uint64(14695981039346656037)
const fnvPrime = uint64(1099511628211)

func hashString(h uint64, s string) uint64 {
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime
	}
	return h
}

func hashUint32(h uint64, v uint32) uint64 {
	for i := 0; i < 4; i++ {
		h ^= uint64(byte(v >> (8 * i)))
		h *= fnvPrime
	}
	return h
}

func hashInt64(h uint64, v int64) uint64 {
	for i := 0; i < 8; i++ {
		h ^= uint64(byte(v >> (8 * i)))
		h *= fnvPrime
	}
	return h
}
