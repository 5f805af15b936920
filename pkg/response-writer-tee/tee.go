package tee

import (
	"errors"
	"net/http"
	"time"
)

// ResponseSaver is a wrapper around http.ResponseWriter that remembers what was sent:
// the status code, the number of body bytes and when the response started.
type ResponseSaver struct {
	rw           http.ResponseWriter
	status       int
	wroteHeaders bool
	written      int64
	CreatedAt    time.Time
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.rw.Header()
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
	t.rw.WriteHeader(statusCode)
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	n, err := t.rw.Write(b)
	t.written += int64(n)
	return n, err
}

// WriteTrailers sends trailer fields after the body.
// They are only transmitted if the body is not length-delimited.
func (t *ResponseSaver) WriteTrailers(trailers http.Header) {
	for name, values := range trailers {
		for _, value := range values {
			t.rw.Header().Add(http.TrailerPrefix+name, value)
		}
	}
}

// Flush sends buffered data to the client, if the underlying writer supports it.
func (t *ResponseSaver) Flush() error {
	err := http.NewResponseController(t.rw).Flush()
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}

// StatusCode returns the status code of the response, 0 if none was sent.
func (t *ResponseSaver) StatusCode() int {
	return t.status
}

// BytesWritten returns the number of body bytes written so far.
func (t *ResponseSaver) BytesWritten() int64 {
	return t.written
}

// Duration returns the time since the saver was created.
func (t *ResponseSaver) Duration() time.Duration {
	return time.Since(t.CreatedAt)
}

// NewResponseSaver returns a new ResponseSaver writing to w.
func NewResponseSaver(w http.ResponseWriter) *ResponseSaver {
	return &ResponseSaver{
		CreatedAt: time.Now(),
		rw:        w,
	}
}
