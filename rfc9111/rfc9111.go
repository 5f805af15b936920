// Package rfc9111 implements the small part of HTTP Caching (RFC 9111)
// that the cache filter relies on: Cache-Control parsing, list-based
// header fields, storable header selection, freshness lifetime and the Age header.
//
// Age calculation, validation and Vary handling are intentionally absent.
package rfc9111
