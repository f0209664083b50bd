// Package track implements the WrapperCoordinator: the top-level
// per-track state machine that owns a TransportEndpoint, an
// ExtractorDriver and its discovered SampleQueues, and drives them
// through prepare, playback, seek, pause/resume and release.
package track

import (
	"errors"
	"time"

	"github.com/aler9/rtsptrack/internal/extractor"
	"github.com/aler9/rtsptrack/internal/format"
	"github.com/aler9/rtsptrack/internal/samplequeue"
	"github.com/aler9/rtsptrack/internal/transport"
)

// Error taxonomy (§7 of the design notes this package implements).
var (
	ErrUnsupportedProtocol = errors.New("track: transport protocol not in {RTP, MP2T, RAW}")
	ErrUnsupportedFormat   = errors.New("track: extractor rejected the stream")
	ErrCancellation        = errors.New("track: canceled during open")
	ErrReadTimeout         = errors.New("track: read timed out")
	ErrReadFailed          = errors.New("track: read failed")
	ErrPrepareNotComplete  = errors.New("track: loader finished before every queue announced a format")
)

// State is the wrapper's lifecycle position.
type State int

// Lifecycle states.
const (
	StateNew State = iota
	StatePreparing
	StatePrepared
	StatePlaying
	StatePaused
	StateResetting
	StateReleased
)

// TrackGroup bundles one produced Format. Track groups in this pipeline
// always hold exactly one exchangeable Format.
type TrackGroup struct {
	Format *format.Format
}

// TrackGroupArray is built exactly once, on the transition into prepared.
type TrackGroupArray []TrackGroup

// EventListener receives the coordinator's outbound lifecycle events,
// dispatched from the coordinator's own event loop.
type EventListener interface {
	PrepareStarted()
	PrepareFailure(err error)
	PrepareSuccess()
	PlaybackCancel()
	PlaybackComplete()
	PlaybackFailure(err error)
}

// Session is the MediaSession collaborator the spec treats as external:
// RTSP signalling state and pause/resume/seek control.
type Session interface {
	IsInterleaved() bool
	IsNATRequired() bool
	IsRTCPSupported() bool
	IsRTCPMuxed() bool
	IsPaused() bool
	Duration() time.Duration
	OnSelectTracks(types []format.Type, enabled bool)
	OnOutgoingInterleavedFrame(channel int, data []byte)
}

// Config is the per-track static configuration the coordinator needs to
// build transports, extractors and NAT punches, fixed once the RTSP
// SETUP exchange has negotiated the transport.
type Config struct {
	TransportProtocol transport.Protocol
	SampleMIME        string
	RTPClockRate      uint32

	// ReadTimeout bounds each socket read; zero selects the default.
	ReadTimeout time.Duration

	SSRCFilter *uint32

	// TransportSource and TransportDestination are the source/destination
	// hosts from the negotiated Transport header, either may be empty;
	// URLHost is the host of the session's control URL. The NAT punch
	// destination is derived from them in that order, falling back to
	// URLHost when the winning candidate is a private IP.
	TransportSource      string
	TransportDestination string
	URLHost              string

	ServerRTPPort  int
	ServerRTCPPort int

	RTCPChannel         int
	RTPChannel          int
	SupportsTCPFailover bool

	// RawCandidates builds a fresh set of Sniffer candidates for
	// RAW-mode sniffing on every load attempt. A factory, not a shared
	// slice, because Sniff mutates extractor-internal state and
	// candidates must start clean on every attempt.
	RawCandidates func() []extractor.Sniffer
}

// Selection describes one consumer track-selection entry.
type Selection struct {
	TrackID int
}

// Stream is the per-track handle returned to the consumer by
// selectTracks; reads route directly to the underlying SampleQueue.
type Stream struct {
	id      int
	queue   *samplequeue.Queue
	enabled bool
}

// IsReady reports sample/end-of-stream availability for this stream.
func (s *Stream) IsReady(loadingFinished bool) bool {
	return s.queue.IsReady(loadingFinished)
}

// ReadData pulls the next queue item for this stream.
func (s *Stream) ReadData(requireFormat bool, loadingFinished bool, resetOffsetUs int64) (samplequeue.Status, *format.Format, *samplequeue.Sample) {
	return s.queue.Read(requireFormat, loadingFinished, resetOffsetUs)
}

// SkipData advances the read cursor to positionUs, returning the number
// of samples skipped.
func (s *Stream) SkipData(positionUs int64) int {
	return s.queue.AdvanceTo(positionUs)
}
