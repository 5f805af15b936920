package rfc9111

import (
	"net/http"
	"time"
)

// §  4.2.1.  Calculating Freshness Lifetime
// §
// §     A cache can calculate the freshness lifetime (denoted as
// §     freshness_lifetime) of a response by evaluating the following rules
// §     and using the first match:

// FreshnessLifetime returns the freshness lifetime of a response as a shared cache,
// along with a boolean indicating whether the response states one explicitly.
// Heuristic freshness is not calculated.
func FreshnessLifetime(header http.Header) (time.Duration, bool) {
	cc, _ := ParseCacheControlHeader(header)
	// §     *  If the cache is shared and the s-maxage response directive
	// §        (Section 5.2.2.10) is present, use its value, or
	if sMaxAge, ok := cc.SMaxAge(); ok {
		return sMaxAge, true
	}
	// §     *  If the max-age response directive (Section 5.2.2.1) is present,
	// §        use its value, or
	if maxAge, ok := cc.MaxAge(); ok {
		return maxAge, true
	}
	// §     *  If the Expires response header field (Section 5.3) is present, use
	// §        its value minus the value of the Date response header field (using
	// §        the time the message was received if it is not present, as per
	// §        Section 6.6.1 of [HTTP]), or
	if expiresStr := header.Get("Expires"); expiresStr != "" {
		// §     A cache recipient MUST interpret invalid date formats, especially the
		// §     value "0", as representing a time in the past (i.e., "already
		// §     expired").
		expires, err := http.ParseTime(expiresStr)
		if err != nil {
			return 0, true
		}
		date, err := http.ParseTime(header.Get("Date"))
		if err != nil {
			date = time.Now()
		}
		if lifetime := expires.Sub(date); lifetime > 0 {
			return lifetime, true
		}
		return 0, true
	}
	// §     *  Otherwise, no explicit expiration time is present in the response.
	return 0, false
}
