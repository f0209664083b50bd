// Package samplequeue implements the per-track ring buffer of decoded
// samples: append, seek-in-buffer, discard-to-keyframe, and the
// blocking-free read API consumed by the track pipeline.
package samplequeue

import "github.com/aler9/rtsptrack/internal/format"

// Flags is a bitset of per-sample flags.
type Flags uint32

// Sample flags.
const (
	FlagKeyframe Flags = 1 << iota
)

// Sample is one elementary media sample.
type Sample struct {
	TimestampUs int64
	Flags       Flags
	Data        []byte
}

// IsKeyframe reports whether the sample is a random-access point.
func (s Sample) IsKeyframe() bool {
	return s.Flags&FlagKeyframe != 0
}

// Status is the result of a Read call.
type Status int

// Read outcomes.
const (
	NothingRead Status = iota
	FormatRead
	BufferRead
	EndOfStream
)

// UpstreamFormatChangeListener is notified when the producer announces a
// new upstream Format.
type UpstreamFormatChangeListener interface {
	OnUpstreamFormatChanged(f *format.Format)
}
