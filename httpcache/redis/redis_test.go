package redis

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/cache-filter/headers"
	"github.com/always-cache/cache-filter/httpcache"
	"github.com/always-cache/cache-filter/httpcache/provider"
)

// setupTestRedis connects to a local Redis and skips the test when there is none.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewStore_Panic(t *testing.T) {
	assert.Panics(t, func() { NewStore(nil, "", 0) })
}

func TestStore(t *testing.T) {
	store := NewStore(setupTestRedis(t), "test:", time.Minute)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "k", time.Time{}, []byte("v")))
	b, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(b))

	ttl, err := store.redis.TTL(ctx, "test:k").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreExpires(t *testing.T) {
	store := NewStore(setupTestRedis(t), "test:", 0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "fresh", time.Now().Add(time.Hour), []byte("v")))
	ttl, err := store.redis.TTL(ctx, "test:fresh").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	require.NoError(t, store.Put(ctx, "stale", time.Now().Add(-time.Minute), []byte("v")))
	_, ok, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheRoundTrip(t *testing.T) {
	cache := provider.New(Name, NewStore(setupTestRedis(t), "test:", 0), time.Second, zerolog.Nop())
	req := &headers.Request{Method: http.MethodGet, Scheme: "http", Authority: "example.com", Path: "/r", Header: http.Header{}}
	lookupRequest := httpcache.NewLookupRequest(httpcache.KeyFor("default", req), req, time.Now())

	ins := cache.MakeInsertContext(cache.MakeLookupContext(lookupRequest))
	h := headers.NewResponse(http.StatusOK)
	h.Header.Set("Cache-Control", "max-age=60")
	ins.InsertHeaders(h, false)
	ins.InsertBody([]byte("from redis"), nil, false)
	ins.InsertTrailers(http.Header{"Checksum": {"abc"}})
	cache.Wait()

	lookup := cache.MakeLookupContext(lookupRequest)
	results := make(chan httpcache.LookupResult, 1)
	lookup.GetHeaders(func(r httpcache.LookupResult) { results <- r })
	result := <-results
	require.Equal(t, httpcache.Ok, result.Status)
	assert.Equal(t, uint64(10), result.ContentLength)
	assert.True(t, result.HasTrailers)

	trailers := make(chan http.Header, 1)
	lookup.GetTrailers(func(h http.Header) { trailers <- h })
	assert.Equal(t, "abc", (<-trailers).Get("Checksum"))
}
