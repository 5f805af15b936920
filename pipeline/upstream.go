package pipeline

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/always-cache/cache-filter/headers"
	"github.com/always-cache/cache-filter/rfc9111"
)

// Upstream sends a request on towards the origin.
type Upstream interface {
	RoundTrip(ctx context.Context, request *headers.Request, body io.Reader, contentLength int64) (*http.Response, error)
}

// Origin is an Upstream that proxies to one origin server.
type Origin struct {
	url        url.URL
	hostHeader string
	client     *http.Client
}

// NewOrigin creates an upstream for originURL. Origins with paths are not supported.
// originHost is the hostname to use for HTTP requests and TLS negotiation;
// set it if e.g. the origin URL is just an IP address.
func NewOrigin(originURL url.URL, originHost string) *Origin {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	hostHeader := originURL.Host
	if originHost != "" {
		hostHeader = originHost
		transport.TLSClientConfig = &tls.Config{
			ServerName: originHost,
		}
	}
	return &Origin{
		url:        originURL,
		hostHeader: hostHeader,
		client: &http.Client{
			Transport: transport,
			// redirects are the client's business
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (o *Origin) String() string {
	return o.url.String()
}

func (o *Origin) RoundTrip(ctx context.Context, request *headers.Request, body io.Reader, contentLength int64) (*http.Response, error) {
	u := o.url
	path, err := url.PathUnescape(request.Path)
	if err != nil {
		return nil, fmt.Errorf("origin request path %q: %w", request.Path, err)
	}
	u.Path, u.RawPath = path, request.Path
	u.RawQuery = request.Query
	if body == nil || contentLength == 0 {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, request.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create origin request: %w", err)
	}
	if body != http.NoBody {
		req.ContentLength = contentLength
	}
	copyHeader(req.Header, rfc9111.StorableHeader(request.Header))
	req.Host = o.hostHeader
	res, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("origin request: %w", err)
	}
	return res, nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
