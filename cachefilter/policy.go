package cachefilter

import (
	"net/http"
	"strings"

	"github.com/always-cache/cache-filter/headers"
	"github.com/always-cache/cache-filter/rfc9111"
)

// IsCacheableRequest reports whether a request may be looked up in the cache.
// Request Cache-Control directives are not evaluated, and HEAD requests are not served.
func IsCacheableRequest(req *headers.Request) bool {
	if req == nil {
		return false
	}
	scheme := strings.ToLower(req.Scheme)
	return req.Method == http.MethodGet &&
		(scheme == "http" || scheme == "https") &&
		req.Authority != "" &&
		req.Path != ""
}

// IsCacheableResponse reports whether a response may be stored.
// Without an explicit Cache-Control field nothing is stored.
// This is a minimal gate, not RFC 9111 freshness or validator logic.
func IsCacheableResponse(res *headers.Response) bool {
	if res == nil || len(res.Header.Values("Cache-Control")) == 0 {
		return false
	}
	return !rfc9111.HasToken(res.Header, "Cache-Control", "private")
}
