package httpapi

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/John-Robertt/subconverter-go/internal/fetch"
	"github.com/John-Robertt/subconverter-go/internal/ruleset"
)

func NewMux() chi.Router {
	return NewMuxWithOptions(Options{})
}

func NewMuxWithOptions(opt Options) chi.Router {
	opt = opt.withDefaults()

	// Ruleset fetches share the same fetcher pool machinery (rate limiting,
	// retry-with-backoff, decode) as subscription fetches, per spec.md §5,
	// routed one target at a time through fetch.FetchAll rather than the
	// teacher's single-shot fetch.FetchText.
	rulesetFetch := func(ctx context.Context, url string) (string, error) {
		results := fetch.FetchAll(ctx, []fetch.Target{{Tag: url, URL: url, Kind: fetch.KindTemplate}}, fetch.PoolOptions{
			Concurrency:  1,
			FetchOptions: fetch.Options{Timeout: opt.FetchTimeout},
			Strict:       true,
		})
		return results[0].Text, results[0].Err
	}
	rsEngine := ruleset.NewWithOptions(rulesetFetch, time.Duration(opt.Settings.RulesetCacheTTLSeconds)*time.Second, ruleset.Options{
		Concurrency: opt.Settings.FetchConcurrency,
	})

	h := &convertHandler{opt: opt, rulesets: rsEngine}

	r := chi.NewRouter()
	r.Get("/", handleIndex)
	r.Get("/healthz", handleHealthz)
	r.Get("/metrics", handleMetrics)

	r.Group(func(r chi.Router) {
		r.Use(requireToken(opt.Settings))
		r.Get("/sub", h.handleSub)
		r.Post("/api/convert", h.handleConvert)
	})

	return r
}
