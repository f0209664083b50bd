package transport

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUDPLocalPortIsEvenAndInRange(t *testing.T) {
	for i := 0; i < 50; i++ {
		u := &UDP{}
		err := u.Open()
		require.NoError(t, err)
		defer u.Close() //nolint:errcheck

		port := u.LocalPort()
		require.GreaterOrEqual(t, port, udpPortRangeLow)
		require.Less(t, port, udpPortRangeHigh)
		require.Zero(t, port%2)
	}
}

type recordingWriter struct {
	calls []struct {
		data []byte
		host string
		port int
	}
}

func (r *recordingWriter) WriteTo(data []byte, host string, port int) error {
	cp := append([]byte(nil), data...)
	r.calls = append(r.calls, struct {
		data []byte
		host string
		port int
	}{cp, host, port})
	return nil
}

func TestNATPunchSendsTwoDatagramsPerDistinctPort(t *testing.T) {
	w := &recordingWriter{}
	Punch(w, "203.0.113.10", 5000, 5001, true, false)

	require.Len(t, w.calls, 4)
	for _, c := range w.calls {
		require.Equal(t, natPunchMagic[:], c.data)
		require.Equal(t, "203.0.113.10", c.host)
	}
	require.Equal(t, 5000, w.calls[0].port)
	require.Equal(t, 5000, w.calls[1].port)
	require.Equal(t, 5001, w.calls[2].port)
	require.Equal(t, 5001, w.calls[3].port)
}

func TestNATPunchSkipsRTCPWhenMuxed(t *testing.T) {
	w := &recordingWriter{}
	Punch(w, "203.0.113.10", 5000, 5001, true, true)
	require.Len(t, w.calls, 2)
}

func TestDestinationCandidatesPrefersSourceThenDestinationThenURL(t *testing.T) {
	require.Equal(t, "1.2.3.4", DestinationCandidates("1.2.3.4", "5.6.7.8", "cam.example.com"))
	require.Equal(t, "5.6.7.8", DestinationCandidates("", "5.6.7.8", "cam.example.com"))
	require.Equal(t, "cam.example.com", DestinationCandidates("", "", "cam.example.com"))
}

func TestDestinationCandidatesFallsBackOnPrivateIP(t *testing.T) {
	require.Equal(t, "cam.example.com", DestinationCandidates("192.168.1.5", "", "cam.example.com"))
}

func TestTCPInterleavedRoutesChannels(t *testing.T) {
	var rtcpFrames [][]byte
	tr := &TCPInterleaved{
		RTPChannel:  0,
		RTCPChannel: 1,
		OnRTCP:      func(data []byte) { rtcpFrames = append(rtcpFrames, data) },
	}
	require.NoError(t, tr.Open())

	tr.OnInterleavedFrame(0, []byte{1, 2, 3})
	tr.OnInterleavedFrame(1, []byte{9})

	buf := make([]byte, 16)
	n, err := tr.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, buf[:n])

	require.Len(t, rtcpFrames, 1)
	require.Equal(t, []byte{9}, rtcpFrames[0])
}

func TestTCPInterleavedCloseUnblocksRead(t *testing.T) {
	tr := &TCPInterleaved{}
	require.NoError(t, tr.Open())

	done := make(chan error, 1)
	go func() {
		_, err := tr.Read(make([]byte, 16))
		done <- err
	}()

	tr.Close() //nolint:errcheck

	select {
	case err := <-done:
		require.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock on Close")
	}
}
