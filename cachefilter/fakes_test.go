package cachefilter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/always-cache/cache-filter/headers"
	"github.com/always-cache/cache-filter/httpcache"
	"github.com/always-cache/cache-filter/pipeline"
)

// scriptedCache answers every lookup with the same result and body.
// Calls are recorded; callbacks run on a new goroutine when async is set.
type scriptedCache struct {
	result   httpcache.LookupResult
	body     func(r httpcache.ByteRange) []byte
	trailers http.Header
	async    bool
	// holdHeaders, if set, receives the GetHeaders callback instead of it being called
	holdHeaders func(cb httpcache.LookupHeadersCallback)

	mu           sync.Mutex
	lookups      int
	bodyRanges   []httpcache.ByteRange
	servedBytes  int
	trailerCalls int
	inserts      int
}

func (c *scriptedCache) MakeLookupContext(request httpcache.LookupRequest) httpcache.LookupContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	return &scriptedLookup{cache: c}
}

func (c *scriptedCache) MakeInsertContext(lookup httpcache.LookupContext) httpcache.InsertContext {
	lookup.(*scriptedLookup).Consume()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inserts++
	return nopInsert{}
}

func (c *scriptedCache) UpdateHeaders(lookup httpcache.LookupContext, _ *headers.Response) {
	lookup.(*scriptedLookup).Consume()
}

func (c *scriptedCache) CacheInfo() httpcache.CacheInfo {
	return httpcache.CacheInfo{Name: "scripted"}
}

func (c *scriptedCache) run(fn func()) {
	if c.async {
		go fn()
	} else {
		fn()
	}
}

func (c *scriptedCache) stats() (lookups int, ranges []httpcache.ByteRange, servedBytes, trailerCalls, inserts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookups, append([]httpcache.ByteRange(nil), c.bodyRanges...), c.servedBytes, c.trailerCalls, c.inserts
}

type scriptedLookup struct {
	httpcache.Consumable
	cache *scriptedCache
}

func (l *scriptedLookup) GetHeaders(cb httpcache.LookupHeadersCallback) {
	l.MustBeLive()
	if l.cache.holdHeaders != nil {
		l.cache.holdHeaders(cb)
		return
	}
	result := l.cache.result
	if result.Headers != nil {
		result.Headers = result.Headers.Clone()
	}
	l.cache.run(func() { cb(result) })
}

func (l *scriptedLookup) GetBody(r httpcache.ByteRange, cb httpcache.LookupBodyCallback) {
	l.MustBeLive()
	chunk := l.cache.body(r)
	l.cache.mu.Lock()
	l.cache.bodyRanges = append(l.cache.bodyRanges, r)
	l.cache.servedBytes += len(chunk)
	l.cache.mu.Unlock()
	l.cache.run(func() { cb(chunk) })
}

func (l *scriptedLookup) GetTrailers(cb httpcache.LookupTrailersCallback) {
	l.MustBeLive()
	l.cache.mu.Lock()
	l.cache.trailerCalls++
	l.cache.mu.Unlock()
	trailers := l.cache.trailers.Clone()
	l.cache.run(func() { cb(trailers) })
}

type nopInsert struct{}

func (nopInsert) InsertHeaders(*headers.Response, bool)             {}
func (nopInsert) InsertBody([]byte, httpcache.InsertCallback, bool) {}
func (nopInsert) InsertTrailers(http.Header)                        {}

// asyncCache completes every call of the wrapped cache on a fresh goroutine.
type asyncCache struct {
	httpcache.HttpCache
}

func (a asyncCache) MakeLookupContext(request httpcache.LookupRequest) httpcache.LookupContext {
	return &asyncLookup{inner: a.HttpCache.MakeLookupContext(request)}
}

func (a asyncCache) MakeInsertContext(lookup httpcache.LookupContext) httpcache.InsertContext {
	return a.HttpCache.MakeInsertContext(lookup.(*asyncLookup).inner)
}

func (a asyncCache) UpdateHeaders(lookup httpcache.LookupContext, h *headers.Response) {
	a.HttpCache.UpdateHeaders(lookup.(*asyncLookup).inner, h)
}

type asyncLookup struct {
	inner httpcache.LookupContext
}

func (l *asyncLookup) GetHeaders(cb httpcache.LookupHeadersCallback) {
	go l.inner.GetHeaders(cb)
}

func (l *asyncLookup) GetBody(r httpcache.ByteRange, cb httpcache.LookupBodyCallback) {
	go l.inner.GetBody(r, cb)
}

func (l *asyncLookup) GetTrailers(cb httpcache.LookupTrailersCallback) {
	go l.inner.GetTrailers(cb)
}

// newProxy wires the cache filter in front of an origin running handler.
func newProxy(t *testing.T, cache httpcache.HttpCache, handler http.HandlerFunc) (http.Handler, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	return pipeline.NewHandler(pipeline.NewOrigin(*u, ""), zerolog.Nop(), NewFactory(cache, Config{ClusterName: "test"})), &calls
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func okResult(contentLength uint64, hasTrailers bool) httpcache.LookupResult {
	h := headers.NewResponse(http.StatusOK)
	h.Header.Set("Cache-Control", "max-age=60")
	req := &headers.Request{Method: http.MethodGet, Scheme: "http", Authority: "x", Path: "/a"}
	return httpcache.NewLookupRequest(httpcache.KeyFor("test", req), req, fixedTime).MakeLookupResult(h, contentLength, hasTrailers)
}

// bodyOf serves ranges of body, at most max bytes at a time.
func bodyOf(body string, max uint64) func(httpcache.ByteRange) []byte {
	return func(r httpcache.ByteRange) []byte {
		end := r.End()
		if r.Length > max {
			end = r.Offset + max
		}
		return []byte(body[r.Offset:end])
	}
}

// fakeCallbacks stands in for the stream when a filter is driven directly.
type fakeCallbacks struct {
	dispatcher     *pipeline.Dispatcher
	logger         zerolog.Logger
	encodedHeaders int
	continued      bool
	reset          bool
}

func newFakeCallbacks() *fakeCallbacks {
	return &fakeCallbacks{dispatcher: pipeline.NewDispatcher(), logger: zerolog.Nop()}
}

// drain runs everything posted so far.
func (c *fakeCallbacks) drain() {
	c.dispatcher.Run(context.Background(), func() bool { return c.dispatcher.Pending() == 0 })
}

func (c *fakeCallbacks) Dispatcher() *pipeline.Dispatcher      { return c.dispatcher }
func (c *fakeCallbacks) Logger() *zerolog.Logger               { return &c.logger }
func (c *fakeCallbacks) ContinueDecoding()                     { c.continued = true }
func (c *fakeCallbacks) EncodeHeaders(*headers.Response, bool) { c.encodedHeaders++ }
func (c *fakeCallbacks) EncodeData([]byte, bool)               {}
func (c *fakeCallbacks) EncodeTrailers(http.Header)            {}
func (c *fakeCallbacks) ResetStream()                          { c.reset = true }
