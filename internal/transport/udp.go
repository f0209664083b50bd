package transport

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"
)

const (
	// udpPortRangeLow and udpPortRangeHigh bound local port selection:
	// an even integer in [50000, 60000).
	udpPortRangeLow  = 50000
	udpPortRangeHigh = 60000

	// maxBindAttempts bounds the retry loop on bind failure, so port
	// exhaustion surfaces as a concrete error instead of spinning
	// forever.
	maxBindAttempts = 20
)

// PausedFunc reports whether the owning session is currently paused.
// Reads that time out while paused are swallowed and retried rather
// than surfaced as errors.
type PausedFunc func() bool

// UDP is the UDP socket-pair TransportEndpoint variant: one socket for
// media (RTP), one for control (RTCP), bound to adjacent ports.
type UDP struct {
	BindHost    string // default "0.0.0.0"
	SSRCFilter  *uint32
	RTCPMuxed   bool
	ReadTimeout time.Duration
	IsPaused    PausedFunc

	mediaConn  *net.UDPConn
	controlConn *net.UDPConn
	port       int
}

// Open binds the media/control socket pair on a randomly chosen even
// port, retrying up to maxBindAttempts times on failure.
func (u *UDP) Open() error {
	if u.BindHost == "" {
		u.BindHost = "0.0.0.0"
	}

	var lastErr error
	for attempt := 0; attempt < maxBindAttempts; attempt++ {
		port := pickEvenPort()

		mediaAddr := &net.UDPAddr{IP: net.ParseIP(u.BindHost), Port: port}
		mediaConn, err := net.ListenUDP("udp", mediaAddr)
		if err != nil {
			lastErr = err
			continue
		}

		if !u.RTCPMuxed {
			controlAddr := &net.UDPAddr{IP: net.ParseIP(u.BindHost), Port: port + 1}
			controlConn, err := net.ListenUDP("udp", controlAddr)
			if err != nil {
				mediaConn.Close() //nolint:errcheck
				lastErr = err
				continue
			}
			u.controlConn = controlConn
		}

		u.mediaConn = mediaConn
		u.port = port
		return nil
	}

	return fmt.Errorf("%w: %v", ErrPortExhausted, lastErr)
}

// pickEvenPort returns a uniformly random even port in
// [udpPortRangeLow, udpPortRangeHigh).
func pickEvenPort() int {
	span := (udpPortRangeHigh - udpPortRangeLow) / 2
	return udpPortRangeLow + 2*rand.Intn(span)
}

// Read reads one datagram from the media socket. Reads that time out
// while the session is paused are swallowed and retried: silence is
// expected then.
func (u *UDP) Read(buf []byte) (int, error) {
	for {
		if u.ReadTimeout > 0 {
			if err := u.mediaConn.SetReadDeadline(time.Now().Add(u.ReadTimeout)); err != nil {
				return 0, err
			}
		}

		n, addr, err := u.mediaConn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return 0, io.EOF
			}
			if isTimeout(err) && u.IsPaused != nil && u.IsPaused() {
				continue
			}
			if isTimeout(err) {
				return 0, ErrTimeout
			}
			return 0, err
		}

		if u.SSRCFilter != nil && !ssrcMatches(buf[:n], *u.SSRCFilter) {
			continue
		}

		_ = addr
		return n, nil
	}
}

// ssrcMatches extracts the SSRC field (bytes 8-11) of an RTP packet and
// compares it against the configured filter.
func ssrcMatches(rtpPacket []byte, ssrc uint32) bool {
	if len(rtpPacket) < 12 {
		return false
	}
	got := uint32(rtpPacket[8])<<24 | uint32(rtpPacket[9])<<16 | uint32(rtpPacket[10])<<8 | uint32(rtpPacket[11])
	return got == ssrc
}

// WriteTo sends data to host:port over the media socket. Used both for
// NAT punching and for outbound RTCP reports, which leave from the media
// socket whether or not RTCP is muxed.
func (u *UDP) WriteTo(data []byte, host string, port int) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	_, err = u.mediaConn.WriteToUDP(data, addr)
	return err
}

// WriteInterleavedFrame is not supported by the UDP variant.
func (u *UDP) WriteInterleavedFrame(int, []byte) error {
	return ErrNotSupported
}

// LocalPort returns the bound media port.
func (u *UDP) LocalPort() int {
	return u.port
}

// Close releases both sockets.
func (u *UDP) Close() error {
	if u.mediaConn != nil {
		u.mediaConn.Close() //nolint:errcheck
	}
	if u.controlConn != nil {
		u.controlConn.Close() //nolint:errcheck
	}
	return nil
}

// ReadRTCP reads one datagram from the control socket. Returns
// ErrNotSupported when RTCP is muxed, since no control socket is bound
// then.
func (u *UDP) ReadRTCP(buf []byte) (int, error) {
	if u.controlConn == nil {
		return 0, ErrNotSupported
	}
	n, _, err := u.controlConn.ReadFromUDP(buf)
	if err != nil {
		if isTimeout(err) {
			return 0, ErrTimeout
		}
		return 0, err
	}
	return n, nil
}
