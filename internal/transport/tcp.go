package transport

import (
	"io"
	"sync"
)

// TCPInterleaved is the TCP-interleaved TransportEndpoint variant. It
// owns no socket of its own: RTP/RTCP frames arrive already
// demultiplexed from the RTSP signalling connection via
// OnInterleavedFrame, and outbound frames are written back through the
// same channel via a caller-supplied writer function.
type TCPInterleaved struct {
	RTPChannel  int
	RTCPChannel int

	// WriteFrame sends a frame on the RTSP control connection. Supplied
	// by the signalling layer.
	WriteFrame func(channel int, data []byte) error

	// OnRTCP is invoked for every frame received on RTCPChannel.
	OnRTCP func(data []byte)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
}

// Open arms the frame sink. TCP-interleaved transport establishes no
// socket of its own, so this only initializes internal state.
func (t *TCPInterleaved) Open() error {
	t.cond = sync.NewCond(&t.mu)
	return nil
}

// OnInterleavedFrame is called by the RTSP signalling layer for every
// demultiplexed frame. RTP frames are copied and queued for Read (the
// caller may reuse its buffer); RTCP frames are routed to OnRTCP.
func (t *TCPInterleaved) OnInterleavedFrame(channel int, data []byte) {
	switch channel {
	case t.RTPChannel:
		t.mu.Lock()
		if !t.closed && t.cond != nil {
			t.queue = append(t.queue, append([]byte(nil), data...))
			t.cond.Signal()
		}
		t.mu.Unlock()

	case t.RTCPChannel:
		if t.OnRTCP != nil {
			t.OnRTCP(data)
		}
	}
}

// Read returns the next queued RTP frame, blocking until one arrives or
// the endpoint is closed.
func (t *TCPInterleaved) Read(buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for len(t.queue) == 0 && !t.closed {
		t.cond.Wait()
	}

	if len(t.queue) == 0 {
		return 0, io.EOF
	}

	frame := t.queue[0]
	t.queue = t.queue[1:]
	n := copy(buf, frame)
	return n, nil
}

// WriteTo is not supported by the TCP-interleaved variant: NAT punching
// is a UDP-only concern.
func (t *TCPInterleaved) WriteTo([]byte, string, int) error {
	return ErrNotSupported
}

// WriteInterleavedFrame sends data on channel via the configured
// signalling-layer writer.
func (t *TCPInterleaved) WriteInterleavedFrame(channel int, data []byte) error {
	if t.WriteFrame == nil {
		return ErrNotSupported
	}
	return t.WriteFrame(channel, data)
}

// LocalPort is always 0: TCP-interleaved transport owns no UDP socket.
func (t *TCPInterleaved) LocalPort() int {
	return 0
}

// Close unblocks any pending Read.
func (t *TCPInterleaved) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.cond != nil {
		t.cond.Broadcast()
	}
	return nil
}
