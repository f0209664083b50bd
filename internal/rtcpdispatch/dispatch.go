// Package rtcpdispatch fans parsed RTCP packets out to listeners, and
// carries locally-generated reports back out to the transport.
package rtcpdispatch

import (
	"sync"

	"github.com/pion/rtcp"
)

// Listener receives RTCP packets read from the transport.
type Listener interface {
	OnPacketsRTCP(pkts []rtcp.Packet)
}

// In collects packets from the transport and publishes them to
// listeners synchronously, in delivery order.
type In struct {
	mu        sync.Mutex
	listeners []Listener
}

// AddListener registers l.
func (d *In) AddListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Dispatch unmarshals raw bytes read from the transport and publishes
// the resulting packets to every registered listener.
func (d *In) Dispatch(raw []byte) error {
	pkts, err := rtcp.Unmarshal(raw)
	if err != nil {
		return err
	}

	d.mu.Lock()
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.Unlock()

	for _, l := range listeners {
		l.OnPacketsRTCP(pkts)
	}
	return nil
}

// OutTransport is the subset of TransportEndpoint that outbound RTCP
// reports are written through.
type OutTransport interface {
	WriteTo(data []byte, host string, port int) error
	WriteInterleavedFrame(channel int, data []byte) error
}

// Out accepts locally-generated RTCP reports (e.g. receiver reports)
// from listeners and emits them via the transport.
type Out struct {
	Transport    OutTransport
	Interleaved  bool
	RTCPChannel  int
	ServerHost   string
	ServerRTCPPort int
}

// Send marshals and emits pkts.
func (d *Out) Send(pkts []rtcp.Packet) error {
	raw, err := rtcp.Marshal(pkts)
	if err != nil {
		return err
	}

	if d.Interleaved {
		return d.Transport.WriteInterleavedFrame(d.RTCPChannel, raw)
	}
	return d.Transport.WriteTo(raw, d.ServerHost, d.ServerRTCPPort)
}
