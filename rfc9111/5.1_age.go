package rfc9111

import (
	"net/http"
	"time"
)

// §  5.1.  Age
// §
// §     The "Age" response header field conveys the sender's estimate of the
// §     time since the response was generated or successfully validated at
// §     the origin server.
// §
// §       Age = delta-seconds

// SetAge sets the Age field of the header to the given age.
func SetAge(header http.Header, age time.Duration) {
	header.Set("Age", ToDeltaSeconds(age))
}

// GetAge returns the Age field as a duration, along with a boolean
// indicating whether the field was present.
func GetAge(header http.Header) (time.Duration, bool) {
	if secondsStr := header.Get("Age"); secondsStr != "" {
		return deltaSeconds(secondsStr), true
	}
	return 0, false
}
