// Package session implements MediaSession: the RTSP signalling-state
// collaborator that a Coordinator consults for transport negotiation
// facts (interleaved vs UDP, NAT traversal, RTCP support/muxing) and
// playback control (pause state, known duration), and reports outgoing
// interleaved frames back through.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aler9/rtsptrack/internal/format"
)

// OutgoingInterleavedWriter sends a framed RTP/RTCP packet on the RTSP
// control connection; supplied by the signalling layer that owns the
// socket.
type OutgoingInterleavedWriter func(channel int, data []byte)

// MediaSession is the default, concrete Session: one instance per
// negotiated RTSP session, created once the SETUP/PLAY exchange fixes
// the transport parameters.
type MediaSession struct {
	ID      uuid.UUID
	Created time.Time

	interleaved bool
	natRequired bool
	rtcpSupport bool
	rtcpMuxed   bool
	duration    time.Duration

	writeFrame OutgoingInterleavedWriter

	mu     sync.Mutex
	paused bool
}

// Config is the fixed set of facts a MediaSession is built from, known
// once SETUP/PLAY negotiation completes.
type Config struct {
	Interleaved bool
	NATRequired bool
	RTCPSupport bool
	RTCPMuxed   bool
	Duration    time.Duration
	WriteFrame  OutgoingInterleavedWriter
}

// New allocates a MediaSession, stamping it with a fresh uuid and the
// current time for log correlation.
func New(cfg Config) *MediaSession {
	return &MediaSession{
		ID:          uuid.New(),
		Created:     time.Now(),
		interleaved: cfg.Interleaved,
		natRequired: cfg.NATRequired,
		rtcpSupport: cfg.RTCPSupport,
		rtcpMuxed:   cfg.RTCPMuxed,
		duration:    cfg.Duration,
		writeFrame:  cfg.WriteFrame,
	}
}

// IsInterleaved reports whether this session negotiated TCP-interleaved
// transport rather than UDP socket pairs.
func (s *MediaSession) IsInterleaved() bool { return s.interleaved }

// IsNATRequired reports whether a NAT punch must precede PLAY.
func (s *MediaSession) IsNATRequired() bool { return s.natRequired }

// IsRTCPSupported reports whether the peer negotiated RTCP at all.
func (s *MediaSession) IsRTCPSupported() bool { return s.rtcpSupport }

// IsRTCPMuxed reports whether RTCP shares the RTP port/channel.
func (s *MediaSession) IsRTCPMuxed() bool { return s.rtcpMuxed }

// Duration returns the known media duration, or zero if live/unknown.
func (s *MediaSession) Duration() time.Duration { return s.duration }

// Pause marks the session paused: UDP read timeouts are swallowed
// rather than surfaced while paused, since silence is then expected.
func (s *MediaSession) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume clears the paused flag.
func (s *MediaSession) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// IsPaused implements track.Session and transport.PausedFunc.
func (s *MediaSession) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// OnSelectTracks is notified whenever the consumer's active track
// selection changes. The default MediaSession has no RTSP-level action
// to take here (no PAUSE/PLAY renegotiation per track); kept only to
// satisfy track.Session, since per-deployment signalling layers may
// want to observe it.
func (s *MediaSession) OnSelectTracks([]format.Type, bool) {}

// OnOutgoingInterleavedFrame forwards a frame to the signalling layer's
// writer, if one was configured (UDP-only sessions leave it nil).
func (s *MediaSession) OnOutgoingInterleavedFrame(channel int, data []byte) {
	if s.writeFrame != nil {
		s.writeFrame(channel, data)
	}
}
