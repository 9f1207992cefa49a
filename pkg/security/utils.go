package security

import (
	"net"
	"net/http"
)

// ClientIP returns the peer IP of the request, taken from RemoteAddr.
// Forwarded-for headers are never consulted.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr carried no port
		return r.RemoteAddr
	}
	return host
}
