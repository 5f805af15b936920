// Package cachefilter serves cached responses and captures cacheable ones.
//
// The Filter looks up GET requests in an httpcache.HttpCache while holding
// the request back. A hit is streamed from the cache range by range; a miss
// lets the request go upstream, and a cacheable upstream response is copied
// into the cache while it is forwarded.
//
// Cache callbacks may arrive on any goroutine. Each one is posted to the
// stream's dispatcher before any filter state is touched.
package cachefilter

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/always-cache/cache-filter/headers"
	"github.com/always-cache/cache-filter/httpcache"
	"github.com/always-cache/cache-filter/pipeline"
	"github.com/always-cache/cache-filter/rfc9111"
	"github.com/always-cache/cache-filter/rfc9211"
)

type readState int

const (
	idle readState = iota
	lookingUp
	serving
	passThrough
)

func (s readState) String() string {
	switch s {
	case idle:
		return "idle"
	case lookingUp:
		return "looking-up"
	case serving:
		return "serving"
	case passThrough:
		return "pass-through"
	}
	return "unknown"
}

type writeState int

const (
	notInserting writeState = iota
	inserting
)

type Config struct {
	// ClusterName becomes the ClusterName of every cache key.
	ClusterName string
	// Clock is used to timestamp lookups. Defaults to time.Now.
	Clock func() time.Time
}

// NewFactory returns a factory creating one Filter per stream, all sharing cache.
func NewFactory(cache httpcache.HttpCache, config Config) pipeline.FilterFactory {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return func() pipeline.StreamFilter {
		return New(cache, config)
	}
}

// Filter is the cache filter of one exchange.
type Filter struct {
	pipeline.PassThroughFilter

	cache  httpcache.HttpCache
	config Config

	readState  readState
	writeState writeState
	lookup     httpcache.LookupContext
	insert     httpcache.InsertContext
	// body ranges still to be served from the cache
	remaining   []httpcache.ByteRange
	hasTrailers bool
	cacheStatus rfc9211.CacheStatus
	// incremented whenever the lookup is dropped; callbacks carry the epoch they were issued in
	epoch     uint64
	destroyed bool
}

func New(cache httpcache.HttpCache, config Config) *Filter {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Filter{
		cache:       cache,
		config:      config,
		cacheStatus: rfc9211.CacheStatus{Cache: cache.CacheInfo().Name},
	}
}

func (f *Filter) log() *zerolog.Logger {
	return f.DecoderCallbacks.Logger()
}

func (f *Filter) DecodeHeaders(req *headers.Request, endStream bool) pipeline.FilterHeadersStatus {
	if !IsCacheableRequest(req) {
		if req != nil && req.Method != http.MethodGet {
			f.cacheStatus.Forward(rfc9211.FwdReasonMethod)
		} else {
			f.cacheStatus.Forward(rfc9211.FwdReasonBypass)
		}
		Lookups.WithLabelValues("bypass").Inc()
		return pipeline.Continue
	}

	key := httpcache.KeyFor(f.config.ClusterName, req)
	f.lookup = f.cache.MakeLookupContext(httpcache.NewLookupRequest(key, req, f.config.Clock()))
	f.readState = lookingUp
	f.log().Trace().Str("key", key.String()).Msg("Looking up")

	lookup, epoch, dispatcher := f.lookup, f.epoch, f.DecoderCallbacks.Dispatcher()
	lookup.GetHeaders(func(result httpcache.LookupResult) {
		dispatcher.Post(func() {
			if f.live(epoch) {
				f.onHeaders(result)
			}
		})
	})
	return pipeline.StopIteration
}

// live reports whether a callback issued in epoch may still act on the filter.
func (f *Filter) live(epoch uint64) bool {
	return !f.destroyed && f.lookup != nil && f.epoch == epoch
}

func (f *Filter) onHeaders(result httpcache.LookupResult) {
	switch result.Status {
	case httpcache.Unusable:
		Lookups.WithLabelValues("miss").Inc()
		f.readState = passThrough
		f.cacheStatus.Forward(rfc9211.FwdReasonUriMiss)
		f.log().Trace().Msg("Cache miss")
		f.DecoderCallbacks.ContinueDecoding()
	case httpcache.Ok:
		Lookups.WithLabelValues("hit").Inc()
		f.serve(result)
	case httpcache.RequiresValidation, httpcache.FoundNotModified, httpcache.UnsatisfiableRange:
		f.contractViolation("unsupported_status", result.Status.String())
	default:
		f.contractViolation("unknown_status", result.Status.String())
	}
}

// serve sends the cached headers and starts streaming the body.
func (f *Filter) serve(result httpcache.LookupResult) {
	if result.Headers == nil {
		f.contractViolation("missing_headers", "")
		return
	}
	res := result.Headers
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	// age is not computed
	rfc9111.SetAge(res.Header, 0)
	f.cacheStatus.Hit()
	f.cacheStatus.ApplyTo(res.Header)

	endStream := result.ContentLength == 0 && !result.HasTrailers
	// set before encoding: the response passes back through this filter
	f.readState = serving
	f.hasTrailers = result.HasTrailers
	if result.ContentLength > 0 {
		f.remaining = []httpcache.ByteRange{{Offset: 0, Length: result.ContentLength}}
	}
	f.log().Debug().Uint64("contentLength", result.ContentLength).Bool("trailers", result.HasTrailers).Msg("Serving from cache")
	f.DecoderCallbacks.EncodeHeaders(res, endStream)
	if endStream {
		return
	}
	f.next()
}

// next requests whatever the cache owes the exchange next.
func (f *Filter) next() {
	if f.lookup == nil {
		return
	}
	if len(f.remaining) > 0 {
		f.getBody()
	} else {
		f.getTrailers()
	}
}

func (f *Filter) getBody() {
	lookup, epoch, dispatcher := f.lookup, f.epoch, f.DecoderCallbacks.Dispatcher()
	lookup.GetBody(f.remaining[0], func(chunk []byte) {
		dispatcher.Post(func() {
			if f.live(epoch) {
				f.onBody(chunk)
			}
		})
	})
}

func (f *Filter) onBody(chunk []byte) {
	if len(f.remaining) == 0 {
		f.contractViolation("unexpected_body", "")
		return
	}
	if len(chunk) == 0 {
		f.contractViolation("missing_body", f.remaining[0].String())
		return
	}
	n := uint64(len(chunk))
	if n > f.remaining[0].Length {
		f.contractViolation("oversized_body", f.remaining[0].String())
		return
	}
	f.remaining[0].TrimFront(n)
	if f.remaining[0].Length == 0 {
		f.remaining = f.remaining[1:]
	}
	ServedBytes.Add(float64(n))
	endStream := len(f.remaining) == 0 && !f.hasTrailers
	f.DecoderCallbacks.EncodeData(chunk, endStream)
	if !endStream {
		f.next()
	}
}

func (f *Filter) getTrailers() {
	lookup, epoch, dispatcher := f.lookup, f.epoch, f.DecoderCallbacks.Dispatcher()
	lookup.GetTrailers(func(trailers http.Header) {
		dispatcher.Post(func() {
			if f.live(epoch) {
				f.onTrailers(trailers)
			}
		})
	})
}

func (f *Filter) onTrailers(trailers http.Header) {
	f.dropLookup()
	if trailers == nil {
		f.DecoderCallbacks.EncodeData(nil, true)
		return
	}
	f.DecoderCallbacks.EncodeTrailers(trailers)
}

// contractViolation aborts the exchange after the backend broke the httpcache contract.
func (f *Filter) contractViolation(reason, detail string) {
	ContractViolations.WithLabelValues(reason).Inc()
	f.log().Error().
		Str("reason", reason).
		Str("detail", detail).
		Str("state", f.readState.String()).
		Str("backend", f.cacheStatus.Cache).
		Msg("Cache backend contract violation")
	f.dropLookup()
	f.DecoderCallbacks.ResetStream()
}

// takeLookup hands over the lookup context, leaving the filter without one.
func (f *Filter) takeLookup() httpcache.LookupContext {
	lookup := f.lookup
	f.dropLookup()
	return lookup
}

func (f *Filter) dropLookup() {
	f.lookup = nil
	f.epoch++
}

func (f *Filter) EncodeHeaders(res *headers.Response, endStream bool) {
	if f.readState == serving {
		// our own cached response
		return
	}
	if f.lookup != nil && IsCacheableResponse(res) {
		f.insert = f.cache.MakeInsertContext(f.takeLookup())
		f.writeState = inserting
		f.cacheStatus.Stored = true
		Inserts.Inc()
		f.log().Trace().Int("status", res.StatusCode).Msg("Inserting into cache")
		f.insert.InsertHeaders(res, endStream)
		if endStream {
			f.insert = nil
		}
	}
	// the response is neither looked up nor stored any more
	f.dropLookup()
	if f.cacheStatus.Status != "" {
		if res.Header == nil {
			res.Header = make(http.Header)
		}
		f.cacheStatus.ApplyTo(res.Header)
	}
}

func (f *Filter) EncodeData(data []byte, endStream bool) {
	if f.insert == nil {
		return
	}
	// readiness is advisory and not waited for
	f.insert.InsertBody(data, func(bool) {}, endStream)
	if endStream {
		f.insert = nil
	}
}

func (f *Filter) EncodeTrailers(trailers http.Header) {
	if f.insert == nil {
		return
	}
	f.insert.InsertTrailers(trailers)
	f.insert = nil
}

// OnDestroy abandons any handles without telling the cache.
func (f *Filter) OnDestroy() {
	if f.writeState == inserting && f.insert != nil {
		f.log().Debug().Msg("Abandoning incomplete cache insert")
	}
	f.destroyed = true
	f.dropLookup()
	f.insert = nil
}
