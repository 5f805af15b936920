// Package simple is the reference cache backend: an in-memory map that never evicts.
//
// A single lock guards the whole map, so unrelated keys serialize too.
// It is a correctness baseline, not a production cache.
package simple

import (
	"bytes"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/always-cache/cache-filter/headers"
	"github.com/always-cache/cache-filter/httpcache"
	"github.com/always-cache/cache-filter/rfc9111"
)

// Name is the registered backend name.
const Name = "simple"

func init() {
	httpcache.Register(Name, func(_ *yaml.Node, logger zerolog.Logger) (httpcache.HttpCache, error) {
		return NewMemCache(logger), nil
	})
}

type memCacheEntry struct {
	headers  *headers.Response
	body     []byte
	trailers http.Header
}

type MemCache struct {
	mutex *sync.Mutex
	db    map[httpcache.Key]memCacheEntry
	log   zerolog.Logger
}

func NewMemCache(logger zerolog.Logger) *MemCache {
	return &MemCache{
		mutex: &sync.Mutex{},
		db:    make(map[httpcache.Key]memCacheEntry),
		log:   logger,
	}
}

func (m *MemCache) MakeLookupContext(request httpcache.LookupRequest) httpcache.LookupContext {
	return &lookupContext{cache: m, request: request}
}

func (m *MemCache) MakeInsertContext(lookup httpcache.LookupContext) httpcache.InsertContext {
	lc := lookup.(*lookupContext)
	lc.Consume()
	return &insertContext{cache: m, key: lc.request.Key()}
}

func (m *MemCache) UpdateHeaders(lookup httpcache.LookupContext, responseHeaders *headers.Response) {
	lc := lookup.(*lookupContext)
	lc.Consume()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entry, ok := m.db[lc.request.Key()]
	if !ok {
		return
	}
	entry.headers = storable(responseHeaders)
	m.db[lc.request.Key()] = entry
}

func (m *MemCache) CacheInfo() httpcache.CacheInfo {
	return httpcache.CacheInfo{Name: Name}
}

// Len returns the number of stored entries.
func (m *MemCache) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.db)
}

// lookup returns a copy of the entry for key, so callers never share the stored header maps.
func (m *MemCache) lookup(key httpcache.Key) (memCacheEntry, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entry, ok := m.db[key]
	if !ok || entry.headers == nil {
		return memCacheEntry{}, false
	}
	return memCacheEntry{
		headers:  entry.headers.Clone(),
		body:     entry.body,
		trailers: entry.trailers.Clone(),
	}, true
}

func (m *MemCache) insert(key httpcache.Key, entry memCacheEntry) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = entry
	m.log.Trace().Str("key", key.String()).Int("bytes", len(entry.body)).Msg("Cache write")
}

func storable(h *headers.Response) *headers.Response {
	stored := h.Clone()
	stored.Header = rfc9111.StorableHeader(stored.Header)
	return stored
}

type lookupContext struct {
	httpcache.Consumable
	cache   *MemCache
	request httpcache.LookupRequest
	entry   memCacheEntry
}

// GetHeaders completes synchronously, on the caller's goroutine.
func (l *lookupContext) GetHeaders(cb httpcache.LookupHeadersCallback) {
	l.MustBeLive()
	entry, ok := l.cache.lookup(l.request.Key())
	if !ok {
		cb(httpcache.UnusableResult())
		return
	}
	l.entry = entry
	cb(l.request.MakeLookupResult(entry.headers.Clone(), uint64(len(entry.body)), len(entry.trailers) > 0))
}

func (l *lookupContext) GetBody(r httpcache.ByteRange, cb httpcache.LookupBodyCallback) {
	l.MustBeLive()
	if r.End() > uint64(len(l.entry.body)) {
		cb(nil)
		return
	}
	cb(l.entry.body[r.Offset:r.End()])
}

func (l *lookupContext) GetTrailers(cb httpcache.LookupTrailersCallback) {
	l.MustBeLive()
	cb(l.entry.trailers.Clone())
}

type insertContext struct {
	cache     *MemCache
	key       httpcache.Key
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

func (i *insertContext) commit(trailers http.Header) {
	if i.committed || i.headers == nil {
		return
	}
	i.committed = true
	i.cache.insert(i.key, memCacheEntry{
		headers:  i.headers,
		body:     bytes.Clone(i.body.Bytes()),
		trailers: trailers,
	})
}
