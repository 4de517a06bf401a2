package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller's address without the port. The router runs
// chi's RealIP first, so forwarded headers are already folded into RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
