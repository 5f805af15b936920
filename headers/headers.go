// Package headers holds the header snapshots that travel through the proxy pipeline.
package headers

import (
	"net/http"
	"strings"
)

// Request is the head of a downstream request as seen by the pipeline.
// Scheme is the scheme the client used to reach the proxy,
// not the scheme the proxy uses towards the origin.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	// Path is in escaped form, as sent by the client; it never contains a raw '?'.
	Path  string
	Query string
	Header    http.Header
}

// FromHTTPRequest builds a Request from an incoming net/http request.
// An X-Forwarded-Proto header set by a front proxy wins over the connection state.
func FromHTTPRequest(r *http.Request) *Request {
	scheme := strings.ToLower(r.Header.Get("X-Forwarded-Proto"))
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	return &Request{
		Method:    r.Method,
		Scheme:    scheme,
		Authority: r.Host,
		Path:      r.URL.EscapedPath(),
		Query:     r.URL.RawQuery,
		Header:    r.Header.Clone(),
	}
}

// RequestURI returns the path and query in origin-form.
func (r *Request) RequestURI() string {
	if r.Query == "" {
		return r.Path
	}
	return r.Path + "?" + r.Query
}

// Clone returns a deep copy of the request head.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	return &c
}

// Response is the head of a response: status code plus header fields.
type Response struct {
	StatusCode int
	Header     http.Header
}

// NewResponse returns a response head with an empty header map.
func NewResponse(statusCode int) *Response {
	return &Response{
		StatusCode: statusCode,
		Header:     make(http.Header),
	}
}

// Clone returns a deep copy of the response head.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	return &c
}
