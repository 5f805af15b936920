// Package responsetransformer adjusts origin response headers by configured rules,
// e.g. to give responses a default Cache-Control.
package responsetransformer

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/always-cache/cache-filter/headers"
)

// Rules are checked in order; the first matching rule wins.
type Rules []Rule

// Rule matches requests by method, path, path prefix and query parameters.
// Paths are compared in escaped form. An empty method matches GET only.
type Rule struct {
	Prefix   string            `yaml:"prefix"`
	Path     string            `yaml:"path"`
	Method   string            `yaml:"method"`
	Default  string            `yaml:"default"`
	Override string            `yaml:"override"`
	Query    map[string]string `yaml:"query"`
	Headers  map[string]string `yaml:"headers"`
}

// Apply changes res according to the first rule matching req.
// Only 200 responses are changed. It reports whether a rule was applied.
func (r Rules) Apply(req *headers.Request, res *headers.Response, logger *zerolog.Logger) bool {
	if res.StatusCode != http.StatusOK {
		return false
	}
	rule := r.find(req, logger)
	if rule == nil {
		return false
	}
	rule.applyTo(res, logger)
	return true
}

func (r Rules) find(req *headers.Request, logger *zerolog.Logger) *Rule {
	logger.Trace().Str("method", req.Method).Str("path", req.Path).Msg("Finding response rule")
	var query url.Values
	for i := range r {
		rule := &r[i]
		if !rule.matchesRequest(req) {
			continue
		}
		if len(rule.Query) > 0 {
			if query == nil {
				query, _ = url.ParseQuery(req.Query)
			}
			if !rule.matchesQuery(query) {
				continue
			}
		}
		// only GET responses are ever cached
		if rule.Method != "" && rule.Method != http.MethodGet {
			logger.Warn().Str("method", rule.Method).Msg("Ignoring response rule for non-GET method")
			continue
		}
		return rule
	}
	return nil
}

func (rule *Rule) matchesRequest(req *headers.Request) bool {
	method := rule.Method
	if method == "" {
		method = http.MethodGet
	}
	switch {
	case method != req.Method:
		return false
	case rule.Path != "" && rule.Path != req.Path:
		return false
	case rule.Prefix != "" && !strings.HasPrefix(req.Path, rule.Prefix):
		return false
	}
	return true
}

// matchesQuery requires every configured parameter; an empty value only requires presence.
func (rule *Rule) matchesQuery(query url.Values) bool {
	for name, value := range rule.Query {
		if !query.Has(name) || (value != "" && query.Get(name) != value) {
			return false
		}
	}
	return true
}

func (rule *Rule) applyTo(res *headers.Response, logger *zerolog.Logger) {
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	switch {
	case rule.Override != "":
		logger.Trace().Str("cacheControl", rule.Override).Msg("Overriding Cache-Control header")
		res.Header.Set("Cache-Control", rule.Override)
	case rule.Default != "" && res.Header.Get("Cache-Control") == "":
		logger.Trace().Str("cacheControl", rule.Default).Msg("Applying default Cache-Control header")
		res.Header.Set("Cache-Control", rule.Default)
	}
	for name, value := range rule.Headers {
		res.Header.Set(name, value)
	}
}
