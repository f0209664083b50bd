package extractor

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/asticode/go-astits"

	"github.com/aler9/rtsptrack/internal/format"
	"github.com/aler9/rtsptrack/internal/samplequeue"
)

// mpegtsClockHz is the fixed 90kHz PTS clock MPEG-TS uses regardless of
// the elementary stream's own sample rate.
const mpegtsClockHz = 90000

// mpegtsStreamType maps an astits stream type to a format.Type and a
// sample MIME, covering the handful of payload kinds this pipeline
// cares about. Anything else is ignored (its PES data is discarded).
func mpegtsStreamType(st astits.StreamType) (format.Type, string, bool) {
	switch st {
	case astits.StreamTypeH264Video:
		return format.TypeVideo, "video/avc", true
	case astits.StreamTypeH265Video:
		return format.TypeVideo, "video/hevc", true
	case astits.StreamTypeAACAudio:
		return format.TypeAudio, "audio/mp4a-latm", true
	case astits.StreamTypeAACLATMAudio:
		return format.TypeAudio, "audio/mp4a-latm", true
	default:
		return format.TypeUnknown, "", false
	}
}

// mpegtsExtractor demuxes an MPEG-TS byte stream (whether it arrived
// raw-over-TCP/UDP or was carried as the payload of RFC 2250 RTP
// packets already reassembled by rtpqueue) into per-PID tracks.
//
// allowNonIDRKeyframes relaxes keyframe detection to "every video
// access unit starting a new PES packet", instead of inspecting NAL
// unit types for an IDR marker; some encoders never emit IDR slices in
// a form this pipeline can reliably parse, so this stays a
// configurable trade-off rather than a hard requirement.
type mpegtsExtractor struct {
	allowNonIDRKeyframes bool

	output  Output
	tracks  map[uint16]TrackOutput
	formats map[uint16]string
	dem     *astits.Demuxer
	cancel  context.CancelFunc
}

func newMPEGTSExtractor(allowNonIDRKeyframes bool) *mpegtsExtractor {
	return &mpegtsExtractor{
		allowNonIDRKeyframes: allowNonIDRKeyframes,
		tracks:               make(map[uint16]TrackOutput),
		formats:              make(map[uint16]string),
	}
}

func (e *mpegtsExtractor) Init(output Output) error {
	e.output = output
	return nil
}

// Sniff looks for a PAT/PMT within the first portion of the stream
// without requiring a caller-visible side effect if it turns out not to
// be MPEG-TS: since this package's Source is not independently
// rewindable, RAW sniffing is limited to "does astits produce a valid
// PMT before EOF", which is sufficient to distinguish MPEG-TS from the
// other RAW candidates this pipeline supports.
func (e *mpegtsExtractor) Sniff(src Source) (bool, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dem := astits.NewDemuxer(ctx, src)
	for i := 0; i < 64; i++ {
		data, err := dem.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				return false, io.EOF
			}
			return false, nil
		}
		if data.PMT != nil {
			return true, nil
		}
	}
	return false, nil
}

func (e *mpegtsExtractor) ensureDemuxer(src Source) {
	if e.dem != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.dem = astits.NewDemuxer(ctx, src)
}

func (e *mpegtsExtractor) Read(src Source, holder *PositionHolder) (Result, error) {
	e.ensureDemuxer(src)

	data, err := e.dem.NextData()
	if err != nil {
		if errors.Is(err, astits.ErrNoMorePackets) {
			return ResultEndOfInput, nil
		}
		if strings.HasPrefix(err.Error(), "astits: parsing PES data failed") {
			return ResultContinue, nil
		}
		return ResultContinue, err
	}

	if data.PMT != nil {
		for _, es := range data.PMT.ElementaryStreams {
			if _, known := e.formats[es.ElementaryPID]; known {
				continue
			}
			trackType, mime, ok := mpegtsStreamType(es.StreamType)
			if !ok {
				continue
			}
			track := e.output.Track(int(es.ElementaryPID), trackType)
			track.SetFormat(format.New(format.Format{
				Type:       trackType,
				SampleMIME: mime,
			}))
			e.tracks[es.ElementaryPID] = track
			e.formats[es.ElementaryPID] = mime
		}
		e.output.EndTracks()
		return ResultContinue, nil
	}

	if data.PES == nil {
		return ResultContinue, nil
	}

	track, ok := e.tracks[data.PID]
	if !ok {
		return ResultContinue, nil
	}

	var timestampUs int64
	if data.PES.Header.OptionalHeader != nil && data.PES.Header.OptionalHeader.PTS != nil {
		timestampUs = int64(float64(data.PES.Header.OptionalHeader.PTS.Base) * 1_000_000 / mpegtsClockHz)
	}

	flags := samplequeue.Flags(0)
	if e.allowNonIDRKeyframes || isIDRSlice(data.PES.Data) {
		flags |= samplequeue.FlagKeyframe
	}

	err = track.WriteSample(samplequeue.Sample{
		TimestampUs: timestampUs,
		Flags:       flags,
		Data:        data.PES.Data,
	})
	if err != nil {
		return ResultContinue, err
	}

	return ResultContinue, nil
}

// isIDRSlice performs a shallow scan for an H.264 IDR NAL unit (type 5)
// within a PES payload, skipping Annex-B start codes. H.265 NAL headers
// are not decoded, so H.265 IDR pictures are not recognized. It is a coarse
// heuristic, not a full bitstream parser: good enough to locate random
// access points without a dependency on a full H.264 parser library.
func isIDRSlice(data []byte) bool {
	for i := 0; i+4 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			nalType := data[i+3] & 0x1F
			if nalType == 5 {
				return true
			}
			i += 3
		}
	}
	return false
}

func (e *mpegtsExtractor) Seek(int64) error {
	// MPEG-TS carries no index; the caller seeks by discarding buffered
	// samples and reconnecting, not by repositioning the demuxer.
	return nil
}

func (e *mpegtsExtractor) Release() {
	if e.cancel != nil {
		e.cancel()
	}
}
