// Package extractor selects and drives a format-specific extractor
// (RTP-generic, RTP-MP2T, raw-MP2T) that turns a packet/byte stream into
// typed samples routed to per-track SampleQueues.
package extractor

import (
	"errors"
	"io"

	"github.com/pion/rtp"

	"github.com/aler9/rtsptrack/internal/format"
	"github.com/aler9/rtsptrack/internal/samplequeue"
	"github.com/aler9/rtsptrack/internal/transport"
)

// ErrUnsupportedProtocol is returned when transportProtocol is none of
// RTP, MP2T or RAW.
var ErrUnsupportedProtocol = errors.New("extractor: unsupported transport protocol")

// ErrUnsupportedFormat is returned when no extractor accepts the stream
// (sniff failure, or missing required payload metadata).
var ErrUnsupportedFormat = errors.New("extractor: unsupported format")

// Result is the outcome of one extractor.Read call.
type Result int

// Read outcomes.
const (
	ResultContinue Result = iota
	ResultEndOfInput
	ResultSeek
)

// Source is what an Extractor reads from: a byte stream (MP2T) and/or
// an ordered RTP packet stream (generic RTP). rtpqueue.Queue implements
// both; a plain transport.Endpoint only needs the byte half.
type Source interface {
	io.Reader
	ReadPacket() (*rtp.Packet, error)
}

// ByteOnlySource adapts a plain io.Reader (e.g. a raw-TS transport
// endpoint) into a Source whose ReadPacket is never expected to be
// called.
type ByteOnlySource struct {
	io.Reader
}

// ReadPacket always fails: byte-only sources carry no packet framing.
func (ByteOnlySource) ReadPacket() (*rtp.Packet, error) {
	return nil, errors.New("extractor: packet reads not supported on a byte-only source")
}

// PositionHolder carries the target position for a ResultSeek outcome.
type PositionHolder struct {
	PositionUs int64
}

// TrackOutput is the per-elementary-track sink an Extractor writes to.
type TrackOutput interface {
	SetFormat(f *format.Format)
	WriteSample(s samplequeue.Sample) error
}

// Output lazily creates one TrackOutput per discovered track id and
// signals when track discovery is complete.
type Output interface {
	Track(id int, trackType format.Type) TrackOutput
	EndTracks()
}

// Extractor is the interface every concrete format handler implements.
type Extractor interface {
	// Init binds the extractor to an Output; called once before Read.
	Init(output Output) error

	// Read consumes from src and produces zero or more samples via the
	// bound Output, returning CONTINUE, END_OF_INPUT or SEEK (with
	// holder populated).
	Read(src Source, holder *PositionHolder) (Result, error)

	// Seek repositions the extractor's internal state (e.g. expected
	// PES boundaries) ahead of resuming Read at positionUs.
	Seek(positionUs int64) error

	// Release frees any extractor-owned resources.
	Release()
}

// Sniffer is implemented by extractors usable as RAW candidates: Sniff
// reads from the stream to decide whether it recognizes the format.
// Source is not rewindable, so the bytes a Sniff call reads are consumed.
type Sniffer interface {
	Extractor
	Sniff(src Source) (bool, error)
}

// IDGenerator hands out monotonically increasing track ids, used by the
// generic RTP extractor (which otherwise has no multiplexed track id to
// key off, unlike MP2T's PID).
type IDGenerator struct {
	next int
}

// Next returns the next id, starting at 0.
func (g *IDGenerator) Next() int {
	id := g.next
	g.next++
	return id
}

// MIME constants for the sample MIME types this package recognizes by
// name instead of by generic-codec registry lookup.
const (
	MimeMP2T = "video/MP2T"
)

// RTPPayloadFormat is the minimal RTP payload configuration the generic
// extractor needs: clock rate for timestamp conversion and the sample
// MIME selecting a depacketizer from the registry.
type RTPPayloadFormat struct {
	ClockRate  uint32
	SampleMIME string
}

// Select implements the ExtractorDriver's selection function: a pure
// function of (transportProtocol, sampleMIME), with sniff-based
// fallback for RAW.
func Select(
	transportProtocol transport.Protocol,
	sampleMIME string,
	rtpFormat *RTPPayloadFormat,
	idGen *IDGenerator,
	rawCandidates []Sniffer,
	src Source,
) (Extractor, error) {
	switch transportProtocol {
	case transport.ProtocolRTP:
		if sampleMIME == MimeMP2T {
			return newMPEGTSExtractor(true), nil
		}
		if rtpFormat == nil {
			return nil, ErrUnsupportedFormat
		}
		return newGenericRTPExtractor(*rtpFormat, idGen), nil

	case transport.ProtocolMP2T:
		return newMPEGTSExtractor(true), nil

	case transport.ProtocolRAW:
		return sniffRaw(rawCandidates, src)

	default:
		return nil, ErrUnsupportedProtocol
	}
}

// sniffRaw tries each candidate's Sniff in turn on the same src,
// skipping any candidate whose sniff hits EOF. The read position is not
// reset between attempts: each candidate reads on from where the
// previous one stopped.
func sniffRaw(candidates []Sniffer, src Source) (Extractor, error) {
	for _, c := range candidates {
		ok, err := c.Sniff(src)
		if err != nil {
			if errors.Is(err, io.EOF) {
				continue
			}
			return nil, err
		}
		if ok {
			return c, nil
		}
	}
	return nil, ErrUnsupportedFormat
}
