// Package rfc9211 builds the Cache-Status HTTP response header field (RFC 9211).
package rfc9211

import (
	"fmt"
	"net/http"
	"strings"
)

// HeaderName is the name of the Cache-Status field.
const HeaderName = "Cache-Status"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"
)

// CacheStatus is one member of the Cache-Status list, as produced by a single cache.
type CacheStatus struct {
	// Cache is the identifier of the cache producing this member.
	Cache     string
	Status    Status
	FwdReason FwdReason
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs CacheStatus) String() string {
	var b strings.Builder
	b.WriteString(cs.Cache)
	if cs.Status == StatusHit {
		b.WriteString("; hit")
	} else if cs.FwdReason != "" {
		fmt.Fprintf(&b, "; fwd=%s", cs.FwdReason)
	}
	if cs.Stored {
		b.WriteString("; stored")
	}
	if cs.Detail != "" {
		fmt.Fprintf(&b, "; detail=%q", cs.Detail)
	}
	return b.String()
}

// ApplyTo appends this member to the Cache-Status field of the header.
func (cs CacheStatus) ApplyTo(header http.Header) {
	header.Add(HeaderName, cs.String())
}
