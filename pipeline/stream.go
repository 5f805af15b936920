package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/always-cache/cache-filter/headers"
	tee "github.com/always-cache/cache-filter/pkg/response-writer-tee"
	"github.com/always-cache/cache-filter/rfc9111"
)

const upstreamChunkSize = 32 * 1024

// Stream is one request/response exchange moving through the filter chain.
// All of its state is owned by the home goroutine, the one running Serve.
type Stream struct {
	id         string
	log        zerolog.Logger
	dispatcher *Dispatcher
	filters    []StreamFilter
	upstream   Upstream
	downstream *tee.ResponseSaver

	request          *headers.Request
	requestEndStream bool
	body             io.Reader
	contentLength    int64

	ctx             context.Context
	decodingDone    bool
	responseStarted bool
	complete        bool
	reset           bool
}

// Serve runs the exchange until the response is complete, a filter resets
// the stream or ctx is cancelled. Filters are destroyed before it returns.
func (s *Stream) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	for i, filter := range s.filters {
		callbacks := &filterCallbacks{stream: s, index: i}
		filter.SetDecoderFilterCallbacks(callbacks)
		filter.SetEncoderFilterCallbacks(callbacks)
	}
	defer s.destroy()

	s.decodeHeaders(0)
	err := s.dispatcher.Run(ctx, s.done)
	if s.reset {
		return ErrStreamReset
	}
	if err != nil {
		return fmt.Errorf("stream %s: %w", s.id, err)
	}
	return nil
}

func (s *Stream) done() bool {
	return s.complete || s.reset
}

func (s *Stream) destroy() {
	s.dispatcher.Exit()
	for _, filter := range s.filters {
		filter.OnDestroy()
	}
}

// decodeHeaders passes the request headers to the filters from index on,
// and to the upstream once every filter has let them through.
func (s *Stream) decodeHeaders(from int) {
	for i := from; i < len(s.filters); i++ {
		if s.responseStarted || s.done() {
			return
		}
		if s.filters[i].DecodeHeaders(s.request, s.requestEndStream) == StopIteration {
			s.log.Trace().Int("filter", i).Msg("Decoding stopped")
			return
		}
	}
	if s.responseStarted || s.done() {
		return
	}
	s.decodingDone = true
	s.startUpstream()
}

func (s *Stream) continueDecoding(index int) {
	if s.decodingDone || s.responseStarted || s.done() {
		return
	}
	s.log.Trace().Int("filter", index).Msg("Decoding continued")
	s.decodeHeaders(index + 1)
}

// startUpstream forwards the request and streams the response back through
// the dispatcher, one chunk at a time.
func (s *Stream) startUpstream() {
	request := s.request.Clone()
	go func() {
		res, err := s.upstream.RoundTrip(s.ctx, request, s.body, s.contentLength)
		if err != nil {
			s.dispatcher.Post(func() { s.upstreamFailed(err) })
			return
		}
		defer res.Body.Close()

		h := &headers.Response{
			StatusCode: res.StatusCode,
			Header:     rfc9111.StorableHeader(res.Header),
		}
		endStream := res.ContentLength == 0
		if !s.postAndWait(func() { s.encodeHeaders(h, endStream) }) || endStream {
			return
		}
		for {
			buf := make([]byte, upstreamChunkSize)
			n, err := res.Body.Read(buf)
			if n > 0 {
				if !s.postAndWait(func() { s.encodeData(buf[:n], false) }) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				if trailers := presentTrailers(res.Trailer); len(trailers) > 0 {
					s.dispatcher.Post(func() { s.encodeTrailers(trailers) })
				} else {
					s.dispatcher.Post(func() { s.encodeData(nil, true) })
				}
				return
			}
			if err != nil {
				s.dispatcher.Post(func() { s.upstreamFailed(err) })
				return
			}
		}
	}()
}

// postAndWait runs fn on the home goroutine and waits for it to finish.
// It reports false if the stream went away first.
func (s *Stream) postAndWait(fn func()) bool {
	finished := make(chan struct{})
	s.dispatcher.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Stream) upstreamFailed(err error) {
	if s.done() {
		return
	}
	s.log.Error().Err(err).Msg("Upstream request failed")
	if s.responseStarted {
		s.resetStream()
		return
	}
	s.encodeHeaders(headers.NewResponse(http.StatusBadGateway), true)
}

func (s *Stream) encodeHeaders(h *headers.Response, endStream bool) {
	if s.done() {
		return
	}
	if s.responseStarted {
		s.log.Error().Msg("Response headers encoded twice")
		s.resetStream()
		return
	}
	s.responseStarted = true
	for i := len(s.filters) - 1; i >= 0; i-- {
		s.filters[i].EncodeHeaders(h, endStream)
		if s.done() {
			return
		}
	}
	dst := s.downstream.Header()
	for name, values := range h.Header {
		dst[name] = append([]string(nil), values...)
	}
	s.downstream.WriteHeader(h.StatusCode)
	s.finish(endStream)
}

func (s *Stream) encodeData(data []byte, endStream bool) {
	if s.done() {
		return
	}
	if !s.responseStarted {
		s.log.Error().Msg("Response body encoded before headers")
		s.resetStream()
		return
	}
	for i := len(s.filters) - 1; i >= 0; i-- {
		s.filters[i].EncodeData(data, endStream)
		if s.done() {
			return
		}
	}
	if len(data) > 0 {
		if _, err := s.downstream.Write(data); err != nil {
			s.log.Debug().Err(err).Msg("Downstream write failed")
			s.resetStream()
			return
		}
	}
	s.finish(endStream)
}

func (s *Stream) encodeTrailers(trailers http.Header) {
	if s.done() {
		return
	}
	if !s.responseStarted {
		s.log.Error().Msg("Response trailers encoded before headers")
		s.resetStream()
		return
	}
	for i := len(s.filters) - 1; i >= 0; i-- {
		s.filters[i].EncodeTrailers(trailers)
		if s.done() {
			return
		}
	}
	s.downstream.WriteTrailers(trailers)
	s.finish(true)
}

func (s *Stream) finish(endStream bool) {
	if endStream {
		s.complete = true
		return
	}
	if err := s.downstream.Flush(); err != nil {
		s.log.Debug().Err(err).Msg("Downstream flush failed")
		s.resetStream()
	}
}

func (s *Stream) resetStream() {
	if s.reset {
		return
	}
	s.log.Debug().Msg("Stream reset")
	s.reset = true
}

// presentTrailers drops trailer names that were announced but never sent.
func presentTrailers(trailer http.Header) http.Header {
	present := make(http.Header)
	for name, values := range trailer {
		if len(values) > 0 {
			present[name] = values
		}
	}
	return present
}

// filterCallbacks binds a filter to its position in the chain.
type filterCallbacks struct {
	stream *Stream
	index  int
}

func (c *filterCallbacks) Dispatcher() *Dispatcher {
	return c.stream.dispatcher
}

func (c *filterCallbacks) Logger() *zerolog.Logger {
	return &c.stream.log
}

func (c *filterCallbacks) ContinueDecoding() {
	c.stream.continueDecoding(c.index)
}

func (c *filterCallbacks) EncodeHeaders(response *headers.Response, endStream bool) {
	c.stream.encodeHeaders(response, endStream)
}

func (c *filterCallbacks) EncodeData(data []byte, endStream bool) {
	c.stream.encodeData(data, endStream)
}

func (c *filterCallbacks) EncodeTrailers(trailers http.Header) {
	c.stream.encodeTrailers(trailers)
}

func (c *filterCallbacks) ResetStream() {
	c.stream.resetStream()
}
