package rfc9111

import (
	"net/http"
	"testing"
	"time"
)

func TestMaxAge(t *testing.T) {
	cc := ParseCacheControl([]string{"max-age=60"})
	val, ok := cc.Get("max-age")
	if !ok {
		t.Fatal("Could not get directive")
	}
	if val != "60" {
		t.Fatalf("Value is %s", val)
	}
	if maxAge, ok := cc.MaxAge(); !ok || maxAge != time.Minute {
		t.Fatalf("MaxAge is %v (%v)", maxAge, ok)
	}
}

func TestReal(t *testing.T) {
	cc := ParseCacheControl([]string{"public, max-age=0, s-maxage=600"})
	if val, ok := cc.Get("public"); !ok || val != "" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
	if val, ok := cc.Get("max-age"); !ok || val != "0" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
	if val, ok := cc.Get("s-maxage"); !ok || val != "600" {
		t.Fatalf("val: '%s', ok: %v", val, ok)
	}
}

func TestNoSpaceAfterComma(t *testing.T) {
	cc := ParseCacheControl([]string{"PRIVATE,max-age=\"30\""})
	if !cc.HasDirective("private") {
		t.Fatal("private directive not found")
	}
	if val, _ := cc.Get("max-age"); val != "30" {
		t.Fatalf("max-age is %s", val)
	}
}

func TestParseCacheControlHeaderAbsent(t *testing.T) {
	if _, ok := ParseCacheControlHeader(http.Header{}); ok {
		t.Fatal("absent Cache-Control reported as present")
	}
}
