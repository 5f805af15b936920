package pipeline

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/always-cache/cache-filter/headers"
	tee "github.com/always-cache/cache-filter/pkg/response-writer-tee"
)

// Handler serves every request as a Stream through the configured filters.
type Handler struct {
	upstream  Upstream
	factories []FilterFactory
	log       zerolog.Logger
}

// NewHandler creates a handler. Filters are created per request, in chain order.
func NewHandler(upstream Upstream, logger zerolog.Logger, factories ...FilterFactory) *Handler {
	return &Handler{
		upstream:  upstream,
		factories: factories,
		log:       logger,
	}
}

// ServeHTTP implements the http.Handler interface.
// A reset stream aborts the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := hlog.IDFromRequest(r)
	if !ok {
		id = xid.New()
	}
	logger := h.log.With().
		Str("stream", id.String()).
		Str("path", r.URL.Path).
		Logger()

	filters := make([]StreamFilter, 0, len(h.factories))
	for _, factory := range h.factories {
		filters = append(filters, factory())
	}

	downstream := tee.NewResponseSaver(w)
	s := &Stream{
		id:               id.String(),
		log:              logger,
		dispatcher:       NewDispatcher(),
		filters:          filters,
		upstream:         h.upstream,
		downstream:       downstream,
		request:          headers.FromHTTPRequest(r),
		requestEndStream: r.Body == nil || r.Body == http.NoBody,
		body:             r.Body,
		contentLength:    r.ContentLength,
	}
	err := s.Serve(r.Context())
	logRequest(&logger, r, downstream, err)
	if errors.Is(err, ErrStreamReset) {
		panic(http.ErrAbortHandler)
	}
}

func logRequest(logger *zerolog.Logger, r *http.Request, rs *tee.ResponseSaver, err error) {
	logger.Debug().
		Err(err).
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("status", rs.StatusCode()).
		Str("cacheStatus", rs.Header().Get("Cache-Status")).
		Int64("bytes", rs.BytesWritten()).
		Dur("duration", rs.Duration()).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	ip := ipAndPort[:portSepIdx]
	return ip
}
