package httpcache

import (
	"fmt"
	"time"

	"github.com/always-cache/cache-filter/headers"
)

// CacheEntryStatus is the outcome of a lookup.
type CacheEntryStatus int

const (
	// Ok means the entry can be served as is.
	Ok CacheEntryStatus = iota
	// Unusable means there is no entry, or none that can be served.
	Unusable
	// RequiresValidation means the entry is stale and must be revalidated.
	// Not produced by backends yet.
	RequiresValidation
	// FoundNotModified means the entry satisfies a conditional request.
	// Not produced by backends yet.
	FoundNotModified
	// UnsatisfiableRange means the requested ranges cannot be served.
	// Not produced by backends yet.
	UnsatisfiableRange
)

func (s CacheEntryStatus) String() string {
	switch s {
	case Ok:
		return "ok"
	case Unusable:
		return "unusable"
	case RequiresValidation:
		return "requires-validation"
	case FoundNotModified:
		return "found-not-modified"
	case UnsatisfiableRange:
		return "unsatisfiable-range"
	}
	return fmt.Sprintf("CacheEntryStatus(%d)", int(s))
}

// ByteRange is a slice of a response body.
type ByteRange struct {
	Offset uint64
	Length uint64
}

// End returns the offset one past the last byte of the range.
func (r ByteRange) End() uint64 {
	return r.Offset + r.Length
}

// TrimFront removes n bytes from the beginning of the range.
// It panics if n exceeds the length of the range.
func (r *ByteRange) TrimFront(n uint64) {
	if n > r.Length {
		panic(fmt.Sprintf("httpcache: trimming %d bytes from a range of %d", n, r.Length))
	}
	r.Offset += n
	r.Length -= n
}

func (r ByteRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Offset, r.End())
}

// LookupRequest describes one cache query. It is immutable once created.
type LookupRequest struct {
	key       Key
	headers   *headers.Request
	timestamp time.Time
}

// NewLookupRequest snapshots the request headers for a lookup of key.
func NewLookupRequest(key Key, req *headers.Request, timestamp time.Time) LookupRequest {
	return LookupRequest{
		key:       key,
		headers:   req.Clone(),
		timestamp: timestamp,
	}
}

func (r LookupRequest) Key() Key {
	return r.key
}

// RequestHeaders returns a copy of the request head the lookup was made for.
func (r LookupRequest) RequestHeaders() *headers.Request {
	return r.headers.Clone()
}

func (r LookupRequest) Timestamp() time.Time {
	return r.timestamp
}

// MakeLookupResult builds the result for a stored response that is served in full.
// Freshness is not evaluated, so the status is always Ok.
func (r LookupRequest) MakeLookupResult(responseHeaders *headers.Response, contentLength uint64, hasTrailers bool) LookupResult {
	result := LookupResult{
		Status:        Ok,
		Headers:       responseHeaders,
		ContentLength: contentLength,
		HasTrailers:   hasTrailers,
	}
	if contentLength > 0 {
		result.ResponseRanges = []ByteRange{{Offset: 0, Length: contentLength}}
	}
	return result
}

// LookupResult is the asynchronous outcome of LookupContext.GetHeaders.
type LookupResult struct {
	Status CacheEntryStatus
	// Headers is owned by the receiver. Only set when Status is Ok.
	Headers        *headers.Response
	ContentLength  uint64
	HasTrailers    bool
	ResponseRanges []ByteRange
}

// UnusableResult is the result for a lookup that found nothing to serve.
func UnusableResult() LookupResult {
	return LookupResult{Status: Unusable}
}
