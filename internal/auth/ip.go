package auth

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP derives the caller's address from r. See ClientIPFrom.
func ClientIP(r *http.Request) string {
	return ClientIPFrom(r.Header.Get("X-Forwarded-For"), r.RemoteAddr)
}

// ClientIPFrom returns the first comma-separated X-Forwarded-For entry, or
// the host part of the transport peer address when the header is empty.
// The first entry is whatever the client sent, so it only suits token
// binding, where issue and submit see the same header.
func ClientIPFrom(forwardedFor, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return PeerIP(remoteAddr)
}

// ProxiedIPFrom returns the last non-empty X-Forwarded-For entry, the hop
// appended by the nearest proxy, or PeerIP(remoteAddr) when there is none.
func ProxiedIPFrom(forwardedFor, remoteAddr string) string {
	entries := strings.Split(forwardedFor, ",")
	for i := len(entries) - 1; i >= 0; i-- {
		if last := strings.TrimSpace(entries[i]); last != "" {
			return last
		}
	}
	return PeerIP(remoteAddr)
}

// PeerIP strips the port from a transport peer address.
func PeerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
