package transport

import "net"

// natPunchMagic is the 4-byte big-endian payload sent to prime NAT
// mappings ahead of inbound media.
var natPunchMagic = [4]byte{0xCE, 0xFA, 0xED, 0xFE}

// DestinationCandidates resolves the NAT-punch destination host,
// preferring transport.source, then transport.destination, then the
// URL host. If the winning candidate is a private IP, fall back to the
// URL host (a private-IP "source"/"destination" from signalling is
// almost always wrong when traversing a NAT).
func DestinationCandidates(transportSource, transportDestination, urlHost string) string {
	for _, candidate := range []string{transportSource, transportDestination} {
		if candidate == "" {
			continue
		}
		if isPrivateIP(candidate) {
			return urlHost
		}
		return candidate
	}
	return urlHost
}

func isPrivateIP(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}

// Writer is the subset of Endpoint used to emit NAT punches.
type Writer interface {
	WriteTo(data []byte, host string, port int) error
}

// Punch sends the NAT-punch magic twice to each server port. RTCP is
// punched separately only when it uses a distinct port and muxing is
// disabled. Failures are silent, matching the spec: a punch is a
// best-effort optimization, not a correctness requirement.
func Punch(w Writer, host string, rtpPort int, rtcpPort int, rtcpSupported bool, rtcpMuxed bool) {
	ports := []int{rtpPort}
	if rtcpSupported && !rtcpMuxed && rtcpPort != 0 && rtcpPort != rtpPort {
		ports = append(ports, rtcpPort)
	}

	for _, port := range ports {
		for i := 0; i < 2; i++ {
			_ = w.WriteTo(natPunchMagic[:], host, port)
		}
	}
}
