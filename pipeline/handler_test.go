package pipeline

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/cache-filter/headers"
)

type recordingFilter struct {
	PassThroughFilter
	name      string
	events    *[]string
	onDecode  func(f *recordingFilter) FilterHeadersStatus
	destroyed bool
}

func (f *recordingFilter) DecodeHeaders(req *headers.Request, endStream bool) FilterHeadersStatus {
	*f.events = append(*f.events, f.name+":decode")
	if f.onDecode != nil {
		return f.onDecode(f)
	}
	return Continue
}

func (f *recordingFilter) EncodeHeaders(res *headers.Response, endStream bool) {
	*f.events = append(*f.events, f.name+":headers")
	res.Header.Add("X-Filters", f.name)
}

func (f *recordingFilter) EncodeData(data []byte, endStream bool) {
	if endStream {
		*f.events = append(*f.events, f.name+":end")
	}
}

func (f *recordingFilter) EncodeTrailers(trailers http.Header) {
	*f.events = append(*f.events, f.name+":trailers")
}

func (f *recordingFilter) OnDestroy() {
	f.destroyed = true
}

func newOrigin(t *testing.T, handler http.HandlerFunc) (*Origin, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	return NewOrigin(*u, ""), &calls
}

func factoryOf(f StreamFilter) FilterFactory {
	return func() StreamFilter { return f }
}

func TestProxiesToOrigin(t *testing.T) {
	var seen *http.Request
	origin, calls := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.Header().Set("Content-Type", "text/test")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("Hello world"))
	})
	handler := NewHandler(origin, zerolog.Nop())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://proxy.example/path?q=1", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	handler.ServeHTTP(rr, req)

	res := rr.Result()
	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "Hello world", string(body))
	assert.Equal(t, "text/test", res.Header.Get("Content-Type"))
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	require.NotNil(t, seen)
	assert.Equal(t, "/path", seen.URL.Path)
	assert.Equal(t, "q=1", seen.URL.RawQuery)
	assert.Empty(t, seen.Header.Get("X-Forwarded-For"))
}

func TestOriginReceivesEscapedPath(t *testing.T) {
	var rawPath string
	origin, _ := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		rawPath = r.URL.EscapedPath()
	})
	handler := NewHandler(origin, zerolog.Nop())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/a%3Fb/c%2Fd", nil))

	assert.Equal(t, "/a%3Fb/c%2Fd", rawPath)
}

func TestOriginHostHeader(t *testing.T) {
	var host string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host = r.Host
	}))
	defer server.Close()
	u, _ := url.Parse(server.URL)

	NewHandler(NewOrigin(*u, "origin.example"), zerolog.Nop()).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "origin.example", host)
}

func TestEncodingRunsInReverseOrder(t *testing.T) {
	origin, _ := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body"))
	})
	var events []string
	first := &recordingFilter{name: "first", events: &events}
	second := &recordingFilter{name: "second", events: &events}
	handler := NewHandler(origin, zerolog.Nop(), factoryOf(first), factoryOf(second))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{
		"first:decode", "second:decode",
		"second:headers", "first:headers",
		"second:end", "first:end",
	}, events)
	assert.Equal(t, []string{"second", "first"}, rr.Result().Header.Values("X-Filters"))
	assert.True(t, first.destroyed)
	assert.True(t, second.destroyed)
}

func TestAsynchronousLocalReply(t *testing.T) {
	origin, calls := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {})
	var events []string
	replier := &recordingFilter{name: "replier", events: &events}
	replier.onDecode = func(f *recordingFilter) FilterHeadersStatus {
		cb := f.DecoderCallbacks
		go cb.Dispatcher().Post(func() {
			res := headers.NewResponse(http.StatusOK)
			cb.EncodeHeaders(res, false)
			cb.EncodeData([]byte("local "), false)
			cb.EncodeData([]byte("reply"), true)
		})
		return StopIteration
	}
	after := &recordingFilter{name: "after", events: &events}
	handler := NewHandler(origin, zerolog.Nop(), factoryOf(replier), factoryOf(after))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "local reply", rr.Body.String())
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
	// the reply passes through the whole encoder chain, the replying filter included
	assert.Equal(t, []string{
		"replier:decode",
		"after:headers", "replier:headers",
		"after:end", "replier:end",
	}, events)
}

func TestAsynchronousContinueDecoding(t *testing.T) {
	origin, calls := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("from origin"))
	})
	var events []string
	pauser := &recordingFilter{name: "pauser", events: &events}
	pauser.onDecode = func(f *recordingFilter) FilterHeadersStatus {
		cb := f.DecoderCallbacks
		go cb.Dispatcher().Post(cb.ContinueDecoding)
		return StopIteration
	}
	handler := NewHandler(origin, zerolog.Nop(), factoryOf(pauser), factoryOf(&recordingFilter{name: "next", events: &events}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "from origin", rr.Body.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.Equal(t, []string{"pauser:decode", "next:decode"}, events[:2])
}

func TestResetAbortsHandler(t *testing.T) {
	origin, calls := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {})
	var events []string
	resetter := &recordingFilter{name: "resetter", events: &events}
	resetter.onDecode = func(f *recordingFilter) FilterHeadersStatus {
		f.DecoderCallbacks.ResetStream()
		return StopIteration
	}
	handler := NewHandler(origin, zerolog.Nop(), factoryOf(resetter))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.True(t, resetter.destroyed)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestUpstreamFailureIsBadGateway(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(server.URL)
	server.Close()

	rr := httptest.NewRecorder()
	NewHandler(NewOrigin(*u, ""), zerolog.Nop()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestTrailersPassThrough(t *testing.T) {
	origin, _ := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Trailer", "Checksum")
		w.Write([]byte("body"))
		w.Header().Set("Checksum", "abc")
	})
	var events []string
	handler := NewHandler(origin, zerolog.Nop(), factoryOf(&recordingFilter{name: "f", events: &events}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	res := rr.Result()
	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, "body", string(body))
	assert.Equal(t, "abc", res.Trailer.Get("Checksum"))
	assert.Contains(t, events, "f:trailers")
}

func TestRequestBodyIsForwarded(t *testing.T) {
	origin, _ := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Write(append([]byte("got "), b...))
	})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("payload"))
	NewHandler(origin, zerolog.Nop()).ServeHTTP(rr, req)

	assert.Equal(t, "got payload", rr.Body.String())
}
