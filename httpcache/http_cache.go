// Package httpcache defines the contract between the cache filter and cache backends.
//
// A backend hands out a LookupContext per exchange. The lookup context answers
// GetHeaders, GetBody and GetTrailers, one call at a time, each completed by
// exactly one invocation of its callback. Callbacks may run on any goroutine.
// A lookup context is consumed exactly once: it is either dropped, or turned
// into an InsertContext by MakeInsertContext (or handed to UpdateHeaders).
// Using it after that is a programming error and panics with ErrLookupConsumed.
package httpcache

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/always-cache/cache-filter/headers"
)

// ErrLookupConsumed is the panic value raised when a consumed lookup context is used.
var ErrLookupConsumed = errors.New("httpcache: lookup context already consumed")

type (
	LookupHeadersCallback  func(LookupResult)
	LookupBodyCallback     func(body []byte)
	LookupTrailersCallback func(trailers http.Header)
	InsertCallback         func(ready bool)
)

// LookupContext is the read handle for one exchange.
type LookupContext interface {
	// GetHeaders looks up the entry and reports the result.
	GetHeaders(cb LookupHeadersCallback)
	// GetBody reports a chunk from the start of the range, no longer than the range.
	// A nil chunk means the backend cannot supply the body.
	GetBody(r ByteRange, cb LookupBodyCallback)
	// GetTrailers reports the trailers of an entry looked up with HasTrailers set.
	GetTrailers(cb LookupTrailersCallback)
}

// InsertContext is the write handle for one exchange, derived from its LookupContext.
// The caller may modify headers and chunks once a call returns,
// so implementations copy whatever they keep.
type InsertContext interface {
	InsertHeaders(h *headers.Response, endStream bool)
	// InsertBody stores the next chunk. ready reports whether the backend
	// can take more; it is advisory.
	InsertBody(chunk []byte, ready InsertCallback, endStream bool)
	// InsertTrailers stores the trailers and ends the stream.
	InsertTrailers(trailers http.Header)
}

// CacheInfo describes a backend.
type CacheInfo struct {
	Name                  string
	SupportsRangeRequests bool
}

// HttpCache is implemented by cache backends.
// Implementations are shared by all exchanges and must be safe for concurrent use.
type HttpCache interface {
	MakeLookupContext(request LookupRequest) LookupContext
	// MakeInsertContext consumes the lookup context.
	MakeInsertContext(lookup LookupContext) InsertContext
	// UpdateHeaders replaces the stored headers of the entry the lookup context
	// was created for. It consumes the lookup context.
	UpdateHeaders(lookup LookupContext, responseHeaders *headers.Response)
	CacheInfo() CacheInfo
}

// Consumable tracks the single-use lifecycle of a lookup context.
// Backends embed it in their lookup context types.
type Consumable struct {
	consumed atomic.Bool
}

// Consume marks the context consumed. It panics if it already was.
func (c *Consumable) Consume() {
	if !c.consumed.CompareAndSwap(false, true) {
		panic(ErrLookupConsumed)
	}
}

// MustBeLive panics if the context has been consumed.
func (c *Consumable) MustBeLive() {
	if c.consumed.Load() {
		panic(ErrLookupConsumed)
	}
}
