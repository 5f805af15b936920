package httpcache

import (
	"fmt"
	"strings"

	"github.com/always-cache/cache-filter/headers"
)

const (
	clusterSeparator = ":"
	schemeSeparator  = "://"
	querySeparator   = "?"
)

// Key identifies a cache entry. It is comparable and can be used directly as a map key.
// Two requests with equal keys may be served by the same stored response.
type Key struct {
	// ClusterName distinguishes origins that share host names.
	ClusterName string
	Scheme      string
	Host        string
	// Path is in escaped form, so "/a%3Fb" and "/a?b" stay distinct.
	Path  string
	Query string
}

// KeyFor derives the cache key of a request.
// Host is compared case-insensitively, so it is normalized to lower case.
func KeyFor(clusterName string, req *headers.Request) Key {
	return Key{
		ClusterName: clusterName,
		Scheme:      strings.ToLower(req.Scheme),
		Host:        strings.ToLower(req.Authority),
		Path:        req.Path,
		Query:       req.Query,
	}
}

// String returns the canonical string form of the key,
// suitable as the index of persistent stores.
// Keys built by KeyFor are equal if and only if their string forms are equal:
// the escaped path never holds a raw '?', so the first '?' starts the query.
func (k Key) String() string {
	s := k.ClusterName + clusterSeparator + k.Scheme + schemeSeparator + k.Host + k.Path
	if k.Query != "" {
		s += querySeparator + k.Query
	}
	return s
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	var k Key
	cluster, rest, found := strings.Cut(s, clusterSeparator)
	if !found {
		return k, fmt.Errorf("malformed key %q: missing cluster", s)
	}
	scheme, rest, found := strings.Cut(rest, schemeSeparator)
	if !found {
		return k, fmt.Errorf("malformed key %q: missing scheme", s)
	}
	rest, query, _ := strings.Cut(rest, querySeparator)
	host, path := rest, ""
	if i := strings.Index(rest, "/"); i >= 0 {
		host, path = rest[:i], rest[i:]
	}
	k.ClusterName = cluster
	k.Scheme = scheme
	k.Host = host
	k.Path = path
	k.Query = query
	return k, nil
}
