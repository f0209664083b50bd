package track

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/rtp"

	"github.com/aler9/rtsptrack/internal/errdumper"
	"github.com/aler9/rtsptrack/internal/extractor"
	"github.com/aler9/rtsptrack/internal/format"
	"github.com/aler9/rtsptrack/internal/logger"
	"github.com/aler9/rtsptrack/internal/rtcpdispatch"
	"github.com/aler9/rtsptrack/internal/rtpqueue"
	"github.com/aler9/rtsptrack/internal/samplequeue"
	"github.com/aler9/rtsptrack/internal/transport"
)

// maxDatagramSize bounds one UDP read / TCP interleaved frame; RTP over
// IP never exceeds this in practice (it would require IP fragmentation
// that most RTSP servers avoid).
const maxDatagramSize = 65536

// rtpQueueCapacity bounds PacketQueue's out-of-order pending set.
const rtpQueueCapacity = 512

// defaultReadTimeout applies when Config.ReadTimeout is zero.
const defaultReadTimeout = 10 * time.Second

// mediaLoadable is the Loadable the coordinator starts on the loader:
// it opens a transport.Endpoint, selects and drives an extractor, and
// feeds the coordinator's SampleQueues until canceled or exhausted.
//
// Load splits work across two goroutines when the transport carries
// RTP: a pump that reads datagrams/frames and feeds the reorder queue
// (plus a sibling pump for the RTCP control channel), and the loadable
// goroutine itself, which drives the extractor against the queue's
// blocking read side. Only the loadable goroutine feeds SampleQueues
// and invokes track discovery. For non-RTP transports the extractor
// reads the endpoint directly and no pump is needed.
type mediaLoadable struct {
	c  *Coordinator
	lt transport.LowerTransport

	ep transport.Endpoint

	// pumpErr carries the pump's terminal error (capacity 1) so the
	// extractor side can distinguish "stream drained" from "socket died"
	// after the queue reports EOF.
	pumpErr chan error

	rtpErrs  errdumper.Dumper
	rtcpErrs errdumper.Dumper
	lostPkts errdumper.CounterDumper
}

func newMediaLoadable(c *Coordinator, lt transport.LowerTransport) *mediaLoadable {
	m := &mediaLoadable{c: c, lt: lt}
	m.rtpErrs.OnReport = func(count uint64, last error) {
		c.log.Log(logger.Warn, "%d RTP packet(s) could not be decoded (last: %v)", count, last)
	}
	m.rtcpErrs.OnReport = func(count uint64, last error) {
		c.log.Log(logger.Warn, "%d RTCP packet(s) could not be decoded (last: %v)", count, last)
	}
	m.lostPkts.OnReport = func(count uint64) {
		c.log.Log(logger.Warn, "%d RTP packet(s) lost", count)
	}
	return m
}

func (m *mediaLoadable) newEndpoint() transport.Endpoint {
	if m.lt == transport.LowerTCPInterleaved {
		return &transport.TCPInterleaved{
			RTPChannel:  m.c.cfg.RTPChannel,
			RTCPChannel: m.c.cfg.RTCPChannel,
			WriteFrame: func(channel int, data []byte) error {
				m.c.session.OnOutgoingInterleavedFrame(channel, data)
				return nil
			},
			OnRTCP: func(data []byte) {
				if err := m.c.dispatchRTCP(data); err != nil {
					m.rtcpErrs.Add(err)
				}
			},
		}
	}

	timeout := m.c.cfg.ReadTimeout
	if timeout == 0 {
		timeout = defaultReadTimeout
	}
	return &transport.UDP{
		SSRCFilter:  m.c.cfg.SSRCFilter,
		RTCPMuxed:   m.c.session.IsRTCPMuxed(),
		ReadTimeout: timeout,
		IsPaused:    m.c.session.IsPaused,
	}
}

// newRTCPOut binds the outbound RTCP dispatcher to the open endpoint.
func (m *mediaLoadable) newRTCPOut() *rtcpdispatch.Out {
	if m.lt == transport.LowerTCPInterleaved {
		return &rtcpdispatch.Out{
			Transport:   m.ep,
			Interleaved: true,
			RTCPChannel: m.c.cfg.RTCPChannel,
		}
	}
	return &rtcpdispatch.Out{
		Transport:      m.ep,
		ServerHost:     m.c.serverHost(),
		ServerRTCPPort: m.c.cfg.ServerRTCPPort,
	}
}

// Load implements loader.Loadable.
func (m *mediaLoadable) Load(ctx context.Context) error {
	// An interleaved loadable can only carry RTP: the signalling layer
	// demultiplexes frames per RTP/RTCP channel, so there is no byte
	// stream for an MP2T/RAW extractor to read.
	if m.lt == transport.LowerTCPInterleaved && m.c.cfg.TransportProtocol != transport.ProtocolRTP {
		return ErrUnsupportedProtocol
	}

	// the loader reuses the same loadable across retries; per-attempt
	// state starts fresh here, not in the constructor.
	m.pumpErr = make(chan error, 1)

	m.ep = m.newEndpoint()
	if err := m.ep.Open(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCancellation, context.Canceled)
		}
		return err
	}
	defer m.ep.Close() //nolint:errcheck

	m.rtpErrs.Start()
	defer m.rtpErrs.Stop()
	m.rtcpErrs.Start()
	defer m.rtcpErrs.Stop()
	m.lostPkts.Start()
	defer m.lostPkts.Stop()

	var src extractor.Source
	var rtpQ *rtpqueue.Queue
	if m.c.cfg.TransportProtocol == transport.ProtocolRTP {
		rtpQ = rtpqueue.New(m.c.cfg.RTPClockRate, rtpQueueCapacity)
		rtpQ.OnLost = func(n int) { m.lostPkts.Add(uint64(n)) }
		defer rtpQ.Close() //nolint:errcheck
		src = rtpQ
	} else {
		src = extractor.ByteOnlySource{Reader: m.ep}
	}

	// Endpoint reads have no native cancellation: closing the endpoint
	// (and the reorder queue) is what unblocks them when the loader
	// cancels mid-read.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			m.ep.Close() //nolint:errcheck
			if rtpQ != nil {
				rtpQ.Close() //nolint:errcheck
			}
		case <-watcherDone:
		}
	}()

	m.c.setRTCPOut(m.newRTCPOut())
	switch ep := m.ep.(type) {
	case *transport.UDP:
		m.c.setActiveTransport(ep, ep.LocalPort())
		m.startRTCPPump(ep)
	case *transport.TCPInterleaved:
		m.c.setActiveInterleaved(ep)
	}

	if rtpQ != nil {
		m.startMediaPump(rtpQ)
	}

	var rtpFormat *extractor.RTPPayloadFormat
	if m.c.cfg.TransportProtocol == transport.ProtocolRTP {
		rtpFormat = &extractor.RTPPayloadFormat{
			ClockRate:  m.c.cfg.RTPClockRate,
			SampleMIME: m.c.cfg.SampleMIME,
		}
	}

	var rawCandidates []extractor.Sniffer
	if m.c.cfg.RawCandidates != nil {
		rawCandidates = m.c.cfg.RawCandidates()
	}

	ex, err := extractor.Select(
		m.c.cfg.TransportProtocol, m.c.cfg.SampleMIME, rtpFormat,
		&extractor.IDGenerator{}, rawCandidates, src)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCancellation, context.Canceled)
		}
		if errors.Is(err, extractor.ErrUnsupportedProtocol) {
			return ErrUnsupportedProtocol
		}
		return ErrUnsupportedFormat
	}

	driver, err := extractor.NewDriverFor(ex, loadableTrackSink{c: m.c})
	if err != nil {
		return ErrUnsupportedFormat
	}
	defer driver.Release()

	if err := m.driveUntil(ctx, driver, src, m.c.discoveryDone.Load); err != nil {
		return m.classify(ctx, err)
	}

	if !m.c.waitForContinue(ctx.Done()) {
		return context.Canceled
	}

	if err := m.driveUntil(ctx, driver, src, func() bool { return false }); err != nil {
		return m.classify(ctx, err)
	}
	return nil
}

// startMediaPump reads datagrams/frames off the endpoint and feeds
// parsed RTP packets to the reorder queue until the endpoint dies or is
// closed, at which point the queue is closed so the extractor side
// drains and observes end-of-stream.
func (m *mediaLoadable) startMediaPump(rtpQ *rtpqueue.Queue) {
	go func() {
		buf := make([]byte, maxDatagramSize)
		for {
			n, err := m.ep.Read(buf)
			if err != nil {
				select {
				case m.pumpErr <- err:
				default:
				}
				rtpQ.Close() //nolint:errcheck
				return
			}

			var pkt rtp.Packet
			if uerr := pkt.Unmarshal(buf[:n]); uerr != nil {
				m.rtpErrs.Add(uerr)
				continue
			}
			rtpQ.Push(&pkt)
		}
	}()
}

// startRTCPPump reads the UDP control socket and routes packets through
// the inbound dispatcher. Exits when the socket closes.
func (m *mediaLoadable) startRTCPPump(u *transport.UDP) {
	if !m.c.session.IsRTCPSupported() || m.c.session.IsRTCPMuxed() {
		return
	}
	go func() {
		buf := make([]byte, maxDatagramSize)
		for {
			n, err := u.ReadRTCP(buf)
			if err != nil {
				if errors.Is(err, transport.ErrTimeout) {
					continue
				}
				return
			}
			if derr := m.c.dispatchRTCP(buf[:n]); derr != nil {
				m.rtcpErrs.Add(derr)
			}
		}
	}()
}

// driveUntil runs RunOnce in a loop, stopping when stop() reports true,
// ctx is canceled, or the extractor signals end-of-input/error. A
// pending out-of-buffer seek is consumed before each iteration, so an
// out-of-buffer SeekToUs takes effect on the very next read.
func (m *mediaLoadable) driveUntil(
	ctx context.Context,
	driver *extractor.Driver,
	src extractor.Source,
	stop func() bool,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if stop() {
			return nil
		}

		if us, ok := m.c.consumePendingReset(); ok {
			if err := driver.Seek(us); err != nil {
				return err
			}
		}

		res, err := driver.RunOnce(src)
		if err != nil {
			return err
		}
		if res == extractor.ResultEndOfInput {
			return io.EOF
		}
	}
}

// classify maps a drive loop failure onto the error taxonomy. An EOF
// that the pump caused (socket timeout, socket error) is reattributed
// to its transport-level cause; an EOF with no pump error is a genuine
// end of stream and reported as successful completion.
func (m *mediaLoadable) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return context.Canceled
	}

	if errors.Is(err, io.EOF) {
		select {
		case perr := <-m.pumpErr:
			err = perr
		default:
			return nil
		}
	}

	if errors.Is(err, transport.ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrReadTimeout, transport.ErrTimeout)
	}
	return fmt.Errorf("%w: %v", ErrReadFailed, err)
}

// loadableTrackSink adapts the extractor's TrackSink contract onto the
// coordinator's event loop.
type loadableTrackSink struct{ c *Coordinator }

func (s loadableTrackSink) OnTrack(id int, trackType format.Type, q *samplequeue.Queue) *samplequeue.Queue {
	canonical := q
	s.c.postSync(func() { canonical = s.c.addQueue(id, trackType, q) })
	return canonical
}

func (s loadableTrackSink) OnTracksEnded() {
	s.c.postSync(func() { s.c.onTracksEnded() })
}
