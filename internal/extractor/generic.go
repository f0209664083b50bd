package extractor

import (
	"io"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/aler9/rtsptrack/internal/format"
	"github.com/aler9/rtsptrack/internal/samplequeue"
)

// depacketizerEntry holds a factory for a fresh rtp.Depacketizer, the
// format.Type and a keyframe detector for a given sample MIME. Entries
// cover the codecs this pipeline was validated against; anything not
// listed falls back to a pass-through depacketizer that treats every
// packet as a self-contained, always-keyframe sample (true for most
// audio codecs, a safe if imprecise default otherwise).
type depacketizerEntry struct {
	trackType  format.Type
	newDepack  func() rtp.Depacketizer
	isKeyframe func(payload []byte) bool
}

var depacketizerRegistry = map[string]depacketizerEntry{
	"video/avc": {
		trackType: format.TypeVideo,
		newDepack: func() rtp.Depacketizer { return &codecs.H264Packet{} },
		isKeyframe: func(payload []byte) bool {
			return isIDRSlice(payload)
		},
	},
	"video/vp8": {
		trackType: format.TypeVideo,
		newDepack: func() rtp.Depacketizer { return &codecs.VP8Packet{} },
		isKeyframe: func(payload []byte) bool {
			// VP8's own payload descriptor exposes a frame-type bit; a
			// full parse is out of scope, so every access unit is
			// treated as independently decodable.
			return true
		},
	},
	"audio/opus": {
		trackType: format.TypeAudio,
		newDepack: func() rtp.Depacketizer { return &codecs.OpusPacket{} },
		isKeyframe: func([]byte) bool { return true },
	},
}

// defaultDepacketizerEntry handles any sample MIME not in the registry:
// treated as audio (the common case for an unrecognized payload format)
// with no depacketizing beyond stripping RTP framing.
func defaultDepacketizerEntry(string) depacketizerEntry {
	return depacketizerEntry{
		trackType:  format.TypeAudio,
		newDepack:  func() rtp.Depacketizer { return passthroughDepacketizer{} },
		isKeyframe: func([]byte) bool { return true },
	}
}

type passthroughDepacketizer struct{}

func (passthroughDepacketizer) Unmarshal(payload []byte) ([]byte, error) {
	return payload, nil
}

func (passthroughDepacketizer) IsPartitionHead([]byte) bool { return true }

func (passthroughDepacketizer) IsPartitionTail(marker bool, _ []byte) bool { return marker }

// genericRTPExtractor reassembles one elementary track from an ordered
// RTP packet stream, using the marker bit to delimit access units (the
// convention nearly every RTP payload format follows) and a
// codec-specific depacketizer to strip payload framing.
type genericRTPExtractor struct {
	rtpFormat RTPPayloadFormat
	idGen     *IDGenerator

	trackID int
	entry   depacketizerEntry
	depack  rtp.Depacketizer
	output  Output
	track   TrackOutput
	accum   []byte
}

func newGenericRTPExtractor(rtpFormat RTPPayloadFormat, idGen *IDGenerator) *genericRTPExtractor {
	entry, ok := depacketizerRegistry[rtpFormat.SampleMIME]
	if !ok {
		entry = defaultDepacketizerEntry(rtpFormat.SampleMIME)
	}
	return &genericRTPExtractor{
		rtpFormat: rtpFormat,
		idGen:     idGen,
		entry:     entry,
		depack:    entry.newDepack(),
	}
}

func (e *genericRTPExtractor) Init(output Output) error {
	e.output = output
	e.trackID = e.idGen.Next()
	e.track = output.Track(e.trackID, e.entry.trackType)
	e.track.SetFormat(format.New(format.Format{
		Type:       e.entry.trackType,
		SampleMIME: e.rtpFormat.SampleMIME,
	}))
	output.EndTracks()
	return nil
}

func (e *genericRTPExtractor) Read(src Source, holder *PositionHolder) (Result, error) {
	pkt, err := src.ReadPacket()
	if err != nil {
		if err == io.EOF {
			return ResultEndOfInput, nil
		}
		return ResultContinue, err
	}

	payload, err := e.depack.Unmarshal(pkt.Payload)
	if err != nil {
		// a malformed packet does not end the stream; skip and continue
		return ResultContinue, nil
	}
	e.accum = append(e.accum, payload...)

	if !pkt.Marker {
		return ResultContinue, nil
	}

	clockRate := e.rtpFormat.ClockRate
	if clockRate == 0 {
		clockRate = 90000
	}
	timestampUs := int64(pkt.Timestamp) * 1_000_000 / int64(clockRate)

	flags := samplequeue.Flags(0)
	if e.entry.isKeyframe(e.accum) {
		flags |= samplequeue.FlagKeyframe
	}

	sample := samplequeue.Sample{
		TimestampUs: timestampUs,
		Flags:       flags,
		Data:        e.accum,
	}
	e.accum = nil

	if err := e.track.WriteSample(sample); err != nil {
		return ResultContinue, err
	}
	return ResultContinue, nil
}

func (e *genericRTPExtractor) Seek(int64) error {
	e.accum = nil
	return nil
}

func (e *genericRTPExtractor) Release() {}
