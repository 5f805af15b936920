// Package serializer converts stored responses to and from bytes.
//
// The byte form is the HTTP/1.1 representation of the response. Responses
// with trailers use chunked transfer coding so the trailers follow the body.
package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/always-cache/cache-filter/headers"
)

const storedAtHeaderName = "Acache-Stored-At"

type StoredResponse struct {
	Headers  *headers.Response
	Body     []byte
	Trailers http.Header
	// The value of the clock when the response was stored.
	StoredAt time.Time
}

// StoredResponseToBytes serializes the stored response.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	if sRes.Headers == nil {
		return nil, fmt.Errorf("stored response has no headers")
	}
	res := &http.Response{
		StatusCode:    sRes.Headers.StatusCode,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        sRes.Headers.Header.Clone(),
		ContentLength: int64(len(sRes.Body)),
	}
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))
	if len(sRes.Body) > 0 || len(sRes.Trailers) > 0 {
		res.Body = io.NopCloser(bytes.NewReader(sRes.Body))
	}
	// the chunked writer needs a body to terminate the chunk stream before the trailers
	if len(sRes.Trailers) > 0 {
		res.ContentLength = -1
		res.TransferEncoding = []string{"chunked"}
		res.Trailer = sRes.Trailers.Clone()
	}
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, fmt.Errorf("write response: %w", err)
	}
	return buf.Bytes(), nil
}

// BytesToStoredResponse is the inverse of StoredResponseToBytes.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return sRes, fmt.Errorf("read response: %w", err)
	}
	defer res.Body.Close()
	// trailers are only populated once the body has been read to EOF
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return sRes, fmt.Errorf("read response body: %w", err)
	}
	storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64)
	if err != nil {
		return sRes, fmt.Errorf("read %s: %w", storedAtHeaderName, err)
	}
	res.Header.Del(storedAtHeaderName)

	sRes.Headers = &headers.Response{StatusCode: res.StatusCode, Header: res.Header}
	sRes.Body = body
	sRes.StoredAt = time.Unix(storedAt, 0)
	if len(res.Trailer) > 0 {
		sRes.Trailers = res.Trailer
	}
	return sRes, nil
}
