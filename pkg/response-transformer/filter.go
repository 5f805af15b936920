package responsetransformer

import (
	"github.com/always-cache/cache-filter/headers"
	"github.com/always-cache/cache-filter/pipeline"
)

// Filter applies the rules to upstream response headers.
// Place it after the cache filter so the cache sees the transformed headers.
type Filter struct {
	pipeline.PassThroughFilter
	rules   Rules
	request *headers.Request
}

func NewFactory(rules Rules) pipeline.FilterFactory {
	return func() pipeline.StreamFilter {
		return &Filter{rules: rules}
	}
}

func (f *Filter) DecodeHeaders(req *headers.Request, endStream bool) pipeline.FilterHeadersStatus {
	f.request = req.Clone()
	return pipeline.Continue
}

func (f *Filter) EncodeHeaders(res *headers.Response, endStream bool) {
	if f.request == nil {
		return
	}
	logger := f.EncoderCallbacks.Logger()
	if f.rules.Apply(f.request, res, logger) {
		logger.Debug().Str("cacheControl", res.Header.Get("Cache-Control")).Msg("Response rule applied")
	}
}
