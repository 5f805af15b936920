// Package pipeline runs HTTP exchanges through a chain of stream filters.
//
// Request headers travel through the filters in chain order (decoding).
// Response headers, body chunks and trailers travel back in reverse order
// (encoding) before they are written downstream. Every callback into a filter
// runs on the stream's home goroutine, see Dispatcher.
package pipeline

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/always-cache/cache-filter/headers"
)

// ErrStreamReset is returned by Stream.Serve when a filter reset the stream.
var ErrStreamReset = errors.New("stream reset")

// FilterHeadersStatus tells the stream whether to pass request headers on.
type FilterHeadersStatus int

const (
	// Continue passes the headers to the next filter.
	Continue FilterHeadersStatus = iota
	// StopIteration holds the request until the filter calls ContinueDecoding
	// or replies itself.
	StopIteration
)

func (s FilterHeadersStatus) String() string {
	if s == StopIteration {
		return "StopIteration"
	}
	return "Continue"
}

// StreamFilter sees both directions of one exchange.
// A new filter instance is created for every stream.
//
// Encoding methods observe the response and may modify headers in place;
// they cannot hold the response back.
type StreamFilter interface {
	SetDecoderFilterCallbacks(callbacks DecoderFilterCallbacks)
	SetEncoderFilterCallbacks(callbacks EncoderFilterCallbacks)

	DecodeHeaders(request *headers.Request, endStream bool) FilterHeadersStatus

	EncodeHeaders(response *headers.Response, endStream bool)
	EncodeData(data []byte, endStream bool)
	EncodeTrailers(trailers http.Header)

	// OnDestroy is called once when the stream ends, however it ends.
	OnDestroy()
}

// FilterCallbacks is shared by both directions.
type FilterCallbacks interface {
	Dispatcher() *Dispatcher
	Logger() *zerolog.Logger
}

// DecoderFilterCallbacks lets a decoding filter resume the request or
// produce the response itself. A local response passes through the whole
// encoder chain.
type DecoderFilterCallbacks interface {
	FilterCallbacks
	ContinueDecoding()
	EncodeHeaders(response *headers.Response, endStream bool)
	EncodeData(data []byte, endStream bool)
	EncodeTrailers(trailers http.Header)
	// ResetStream aborts the exchange without a complete response.
	ResetStream()
}

type EncoderFilterCallbacks interface {
	FilterCallbacks
}

// FilterFactory creates the filter instance of one stream.
type FilterFactory func() StreamFilter

// PassThroughFilter implements StreamFilter by doing nothing.
// Embed it to implement only the methods a filter cares about.
type PassThroughFilter struct {
	DecoderCallbacks DecoderFilterCallbacks
	EncoderCallbacks EncoderFilterCallbacks
}

func (f *PassThroughFilter) SetDecoderFilterCallbacks(callbacks DecoderFilterCallbacks) {
	f.DecoderCallbacks = callbacks
}

func (f *PassThroughFilter) SetEncoderFilterCallbacks(callbacks EncoderFilterCallbacks) {
	f.EncoderCallbacks = callbacks
}

func (f *PassThroughFilter) DecodeHeaders(*headers.Request, bool) FilterHeadersStatus {
	return Continue
}

func (f *PassThroughFilter) EncodeHeaders(*headers.Response, bool) {}

func (f *PassThroughFilter) EncodeData([]byte, bool) {}

func (f *PassThroughFilter) EncodeTrailers(http.Header) {}

func (f *PassThroughFilter) OnDestroy() {}
