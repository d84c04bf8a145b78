package proxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are meaningful for a single transport leg only and must
// never cross the proxy in either direction.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// callerAuthHeaders carry the caller's authentication material and would
// otherwise collide with the injected credential at the upstream.
var callerAuthHeaders = map[string]bool{
	"authorization": true,
	"x-session-id":  true,
	"x-auth-key":    true,
}

// copyRequestHeaders copies inbound headers onto the upstream request,
// dropping hop-by-hop headers, the caller's auth headers, and Host
// (Content-Length is recomputed by the transport).
func copyRequestHeaders(dst, src http.Header) {
	for key, values := range src {
		lower := strings.ToLower(key)
		if hopByHopHeaders[lower] || callerAuthHeaders[lower] {
			continue
		}
		if lower == "host" || lower == "content-length" {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// copyResponseHeaders relays upstream response headers to the caller,
// dropping hop-by-hop headers and any header whose value contains the
// injected secret (an upstream echoing request headers on error must not
// leak the credential).
func copyResponseHeaders(dst, src http.Header, secret string) {
	for key, values := range src {
		if hopByHopHeaders[strings.ToLower(key)] {
			continue
		}
		for _, value := range values {
			if secret != "" && strings.Contains(value, secret) {
				continue
			}
			dst.Add(key, value)
		}
	}
}
