// Package transport implements TransportEndpoint: the UDP socket-pair
// and TCP-interleaved-channel variants that feed the packet queue and
// RTCP dispatcher.
package transport

import (
	"errors"
	"net"
)

// Protocol identifies the wire framing used by a given lower transport.
type Protocol int

// Payload protocols an Endpoint can be configured to decode.
const (
	ProtocolRTP Protocol = iota
	ProtocolMP2T
	ProtocolRAW
)

func (p Protocol) String() string {
	switch p {
	case ProtocolRTP:
		return "RTP"
	case ProtocolMP2T:
		return "MP2T"
	default:
		return "RAW"
	}
}

// LowerTransport identifies how packets physically travel.
type LowerTransport int

// Lower transports.
const (
	LowerUDP LowerTransport = iota
	LowerTCPInterleaved
)

func (t LowerTransport) String() string {
	if t == LowerTCPInterleaved {
		return "TCP-interleaved"
	}
	return "UDP"
}

// Sentinel errors surfaced by Endpoint.Read, matching the error
// taxonomy in the coordinator's failure routing.
var (
	// ErrTimeout indicates a per-read timeout, not a hard failure.
	ErrTimeout = errors.New("transport: read timeout")
	// ErrPortExhausted indicates the UDP bind-retry budget was exhausted.
	ErrPortExhausted = errors.New("transport: no UDP port available after retry budget")
	// ErrNotSupported indicates an operation the variant does not implement
	// (e.g. WriteTo on a TCP-interleaved endpoint).
	ErrNotSupported = errors.New("transport: operation not supported by this endpoint")
)

// Endpoint is implemented by both the UDP and TCP-interleaved variants.
type Endpoint interface {
	// Open establishes the transport (binds sockets, or arms the
	// interleaved-frame sink). Safe to call once.
	Open() error

	// Read blocks for up to the configured timeout and returns the next
	// payload. Returns ErrTimeout on a timed-out read, io.EOF once
	// closed with no more buffered data.
	Read(buf []byte) (int, error)

	// WriteTo sends raw bytes to host:port. UDP only; TCP returns
	// ErrNotSupported.
	WriteTo(data []byte, host string, port int) error

	// WriteInterleavedFrame sends raw bytes framed on an RTSP
	// interleaved channel. TCP only; UDP returns ErrNotSupported.
	WriteInterleavedFrame(channel int, data []byte) error

	// LocalPort returns the bound local UDP port, or 0 for TCP.
	LocalPort() int

	// Close releases all resources.
	Close() error
}

// isTimeout reports whether err is a network read timeout.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
