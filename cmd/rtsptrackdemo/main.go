// Package main drives a single track's pipeline against an already
// SETUP'd RTSP transport, for manual exercising of the prepare and
// playback steps without a full RTSP signalling stack.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aler9/rtsptrack/internal/logger"
	"github.com/aler9/rtsptrack/internal/session"
	"github.com/aler9/rtsptrack/internal/track"
	"github.com/aler9/rtsptrack/internal/transport"
)

// chanListener turns track.EventListener callbacks into channel sends so
// main can block on prepare completion without polling.
type chanListener struct {
	prepared chan error
	log      logger.Writer
}

func (l *chanListener) PrepareStarted() { l.log.Log(logger.Info, "prepare started") }

func (l *chanListener) PrepareFailure(err error) {
	select {
	case l.prepared <- err:
	default:
	}
}

func (l *chanListener) PrepareSuccess() {
	select {
	case l.prepared <- nil:
	default:
	}
}

func (l *chanListener) PlaybackCancel()           { l.log.Log(logger.Info, "playback canceled") }
func (l *chanListener) PlaybackComplete()         { l.log.Log(logger.Info, "playback complete") }
func (l *chanListener) PlaybackFailure(err error) { l.log.Log(logger.Error, "playback failed: %v", err) }

func main() {
	var (
		host        = flag.String("host", "127.0.0.1", "RTSP media server host")
		rtpPort     = flag.Int("rtp-port", 0, "server RTP port (0 to skip NAT punch)")
		rtcpPort    = flag.Int("rtcp-port", 0, "server RTCP port")
		sampleMIME  = flag.String("sample-mime", "video/avc", "RTP payload sample MIME (ignored for MP2T)")
		clockRate   = flag.Uint("clock-rate", 90000, "RTP clock rate")
		mp2t        = flag.Bool("mp2t", false, "decode the transport as MPEG-TS instead of generic RTP")
		interleaved = flag.Bool("interleaved", false, "use TCP-interleaved framing instead of UDP")
		prepareWait = flag.Duration("prepare-timeout", 10*time.Second, "how long to wait for prepare to finish")
	)
	flag.Parse()

	log := logger.New(logger.Debug)

	sess := session.New(session.Config{
		Interleaved: *interleaved,
		NATRequired: *rtpPort != 0 && !*interleaved,
	})

	cfg := track.Config{
		TransportProtocol: transport.ProtocolRTP,
		SampleMIME:        *sampleMIME,
		RTPClockRate:      uint32(*clockRate),
		URLHost:           *host,
		ServerRTPPort:     *rtpPort,
		ServerRTCPPort:    *rtcpPort,
	}
	if *mp2t {
		cfg.TransportProtocol = transport.ProtocolMP2T
	}

	listener := &chanListener{prepared: make(chan error, 1), log: log}
	coord := track.New(sess, listener, cfg, &logger.Prefixed{Prefix: fmt.Sprintf("[%s] ", sess.ID), Parent: log})
	defer coord.Release()

	coord.Prepare()

	select {
	case err := <-listener.prepared:
		if err != nil {
			log.Log(logger.Error, "prepare failed: %v", err)
			os.Exit(1)
		}
	case <-time.After(*prepareWait):
		log.Log(logger.Error, "prepare timed out after %s", *prepareWait)
		os.Exit(1)
	}

	for i, g := range coord.GetTrackGroups() {
		log.Log(logger.Info, "track %d: type=%v mime=%s", i, g.Format.Type, g.Format.SampleMIME)
	}

	coord.Playback()
	log.Log(logger.Info, "playing; press ctrl-c to stop")
	select {}
}
