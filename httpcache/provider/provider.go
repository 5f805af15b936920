// Package provider adapts byte-oriented storage to the httpcache contract.
//
// Entries are stored as serialized responses under Key.String().
// Every lookup and insert operation runs on its own goroutine and reports
// back through the callback from there.
package provider

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/always-cache/cache-filter/headers"
	"github.com/always-cache/cache-filter/httpcache"
	serializer "github.com/always-cache/cache-filter/pkg/response-serializer"
	"github.com/always-cache/cache-filter/rfc9111"
)

// CacheProvider stores and retrieves []byte values, which represent HTTP responses.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Get returns the stored bytes for key and whether they were found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores bytes under key. A zero expires means the entry does not expire.
	Put(ctx context.Context, key string, expires time.Time, bytes []byte) error
}

type Cache struct {
	info     httpcache.CacheInfo
	provider CacheProvider
	timeout  time.Duration
	log      zerolog.Logger
	now      func() time.Time
	pending  sync.WaitGroup
}

// New returns a cache named name on top of provider.
// Each provider call is bounded by timeout.
func New(name string, provider CacheProvider, timeout time.Duration, logger zerolog.Logger) *Cache {
	return &Cache{
		info:     httpcache.CacheInfo{Name: name},
		provider: provider,
		timeout:  timeout,
		log:      logger,
		now:      time.Now,
	}
}

func (c *Cache) MakeLookupContext(request httpcache.LookupRequest) httpcache.LookupContext {
	return &lookupContext{cache: c, request: request}
}

func (c *Cache) MakeInsertContext(lookup httpcache.LookupContext) httpcache.InsertContext {
	lc := lookup.(*lookupContext)
	lc.Consume()
	return &insertContext{cache: c, key: lc.request.Key().String()}
}

func (c *Cache) UpdateHeaders(lookup httpcache.LookupContext, responseHeaders *headers.Response) {
	lc := lookup.(*lookupContext)
	lc.Consume()
	key := lc.request.Key().String()
	h := storable(responseHeaders)
	c.async(func(ctx context.Context) {
		entry, ok := c.get(ctx, key)
		if !ok {
			return
		}
		entry.Headers = h
		c.put(ctx, key, entry)
	})
}

func (c *Cache) CacheInfo() httpcache.CacheInfo {
	return c.info
}

// Wait blocks until all operations started so far have completed.
func (c *Cache) Wait() {
	c.pending.Wait()
}

// Close waits for pending operations and closes the provider if it is an io.Closer.
func (c *Cache) Close() error {
	c.Wait()
	if closer, ok := c.provider.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Cache) async(fn func(ctx context.Context)) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// get never fails: errors are logged and reported as a miss.
func (c *Cache) get(ctx context.Context, key string) (serializer.StoredResponse, bool) {
	bts, ok, err := c.provider.Get(ctx, key)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		return serializer.StoredResponse{}, false
	}
	if !ok {
		return serializer.StoredResponse{}, false
	}
	entry, err := serializer.BytesToStoredResponse(bts)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("Could not decode cache entry")
		return serializer.StoredResponse{}, false
	}
	return entry, true
}

func (c *Cache) put(ctx context.Context, key string, entry serializer.StoredResponse) {
	bts, err := serializer.StoredResponseToBytes(entry)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("Could not encode cache entry")
		return
	}
	if err := c.provider.Put(ctx, key, expiresAt(entry), bts); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		return
	}
	c.log.Trace().Str("key", key).Int("bytes", len(entry.Body)).Msg("Cache write")
}

// expiresAt returns when the entry stops being fresh, or the zero time
// if the response does not state an explicit lifetime.
func expiresAt(entry serializer.StoredResponse) time.Time {
	lifetime, ok := rfc9111.FreshnessLifetime(entry.Headers.Header)
	if !ok {
		return time.Time{}
	}
	return entry.StoredAt.Add(lifetime)
}

func storable(h *headers.Response) *headers.Response {
	stored := h.Clone()
	stored.Header = rfc9111.StorableHeader(stored.Header)
	return stored
}

type lookupContext struct {
	httpcache.Consumable
	cache   *Cache
	request httpcache.LookupRequest
	// set by GetHeaders before its callback runs
	entry serializer.StoredResponse
}

func (l *lookupContext) GetHeaders(cb httpcache.LookupHeadersCallback) {
	l.MustBeLive()
	l.cache.async(func(ctx context.Context) {
		entry, ok := l.cache.get(ctx, l.request.Key().String())
		if !ok {
			cb(httpcache.UnusableResult())
			return
		}
		l.entry = entry
		cb(l.request.MakeLookupResult(entry.Headers.Clone(), uint64(len(entry.Body)), len(entry.Trailers) > 0))
	})
}

func (l *lookupContext) GetBody(r httpcache.ByteRange, cb httpcache.LookupBodyCallback) {
	l.MustBeLive()
	body := l.entry.Body
	l.cache.async(func(context.Context) {
		if r.End() > uint64(len(body)) {
			cb(nil)
			return
		}
		cb(body[r.Offset:r.End()])
	})
}

func (l *lookupContext) GetTrailers(cb httpcache.LookupTrailersCallback) {
	l.MustBeLive()
	trailers := l.entry.Trailers.Clone()
	l.cache.async(func(context.Context) {
		cb(trailers)
	})
}

type insertContext struct {
	cache     *Cache
	key       string
	headers   *headers.Response
	body      bytes.Buffer
	committed bool
}

func (i *insertContext) InsertHeaders(h *headers.Response, endStream bool) {
	i.headers = storable(h)
	if endStream {
		i.commit(nil)
	}
}

func (i *insertContext) InsertBody(chunk []byte, ready httpcache.InsertCallback, endStream bool) {
	i.body.Write(chunk)
	if endStream {
		i.commit(nil)
	} else if ready != nil {
		ready(true)
	}
}

func (i *insertContext) InsertTrailers(trailers http.Header) {
	i.commit(rfc9111.StorableTrailer(trailers))
}

// commit writes the complete response in the background.
func (i *insertContext) commit(trailers http.Header) {
	if i.committed || i.headers == nil {
		return
	}
	i.committed = true
	entry := serializer.StoredResponse{
		Headers:  i.headers,
		Body:     bytes.Clone(i.body.Bytes()),
		Trailers: trailers,
		StoredAt: i.cache.now(),
	}
	i.cache.async(func(ctx context.Context) {
		i.cache.put(ctx, i.key, entry)
	})
}
