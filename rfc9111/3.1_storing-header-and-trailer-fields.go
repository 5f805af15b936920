package rfc9111

import (
	"net/http"
	"strings"
)

// StorableHeader returns a copy of the header with the fields removed that
// must not be forwarded, and therefore need not be stored.
func StorableHeader(header http.Header) http.Header {
	if header == nil {
		return nil
	}
	// §     Caches MUST include all received response header fields -- including
	// §     unrecognized ones -- when storing a response; [...] However, the
	// §     following exceptions are made:
	h := header.Clone()
	// §     *  The Connection header field and fields whose names are listed in
	// §        it are required by Section 7.6.1 of [HTTP] to be removed before
	// §        forwarding the message.  This MAY be implemented by doing so
	// §        before storage.
	for _, name := range GetListHeader(header, "Connection") {
		h.Del(name)
	}
	h.Del("Connection")
	// §     *  Likewise, some fields' semantics require them to be removed before
	// §        forwarding the message, and this MAY be implemented by doing so
	// §        before storage;
	h.Del("Proxy-Connection")
	h.Del("Keep-Alive")
	h.Del("TE")
	h.Del("Transfer-Encoding")
	h.Del("Upgrade")
	// §     *  Header fields that are specific to the proxy that a cache uses
	// §        when forwarding a request MUST NOT be stored
	h.Del("Proxy-Authenticate")
	h.Del("Proxy-Authentication-Info")
	h.Del("Proxy-Authorization")
	return h
}

// StorableTrailer returns a copy of the trailer fields to store.
func StorableTrailer(trailer http.Header) http.Header {
	if trailer == nil {
		return nil
	}
	return trailer.Clone()
}

// GetListHeader splits all values of a list-based field on commas
// and returns the whitespace-trimmed, non-empty members.
func GetListHeader(header http.Header, field string) []string {
	return splitList(header.Values(field))
}

// HasToken reports whether token is a member of the list-based field,
// compared case-insensitively.
func HasToken(header http.Header, field, token string) bool {
	for _, item := range GetListHeader(header, field) {
		if strings.EqualFold(item, token) {
			return true
		}
	}
	return false
}

func splitList(values []string) []string {
	list := make([]string, 0)
	for _, hdr := range values {
		for _, item := range strings.Split(hdr, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}
