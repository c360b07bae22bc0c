package attendance

import (
	"net"
	"strings"
)

const maxIPLen = 45

// EffectiveClientAddr picks the address recorded with an attendance mark.
// The first X-Forwarded-For entry wins when the header is non-empty; the
// header is trusted as-is, so a client talking to us directly can spoof it.
func EffectiveClientAddr(remoteAddr, forwardedFor string) string {
	addr := ""
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		addr = strings.TrimSpace(first)
	} else {
		addr = remoteAddr
		if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
			addr = host
		}
	}
	if len(addr) > maxIPLen {
		addr = addr[:maxIPLen]
	}
	return addr
}
