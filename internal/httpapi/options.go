package httpapi

import (
	"time"

	"github.com/John-Robertt/subconverter-go/internal/settings"
)

// Options controls HTTP API runtime behavior (timeouts, static settings).
//
// Keep it small: this service is a compiler pipeline, not a framework.
type Options struct {
	// ConvertTimeout is the hard upper bound for a single conversion request
	// (fetch + parse + compile + render + template injection).
	ConvertTimeout time.Duration

	// FetchTimeout is the per-HTTP-request timeout used when fetching remote
	// resources (subscription/profile/template).
	FetchTimeout time.Duration

	// Settings is the static configuration layer (pipeline defaults, auth,
	// fetch concurrency, ruleset cache TTL). Nil means "use zero-value
	// defaults", matching settings.Load("") with an empty settings file.
	Settings *settings.Settings
}

func (o Options) withDefaults() Options {
	if o.ConvertTimeout <= 0 {
		o.ConvertTimeout = 60 * time.Second
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 15 * time.Second
	}
	if o.Settings == nil {
		defaults, err := settings.Load("")
		if err == nil {
			o.Settings = defaults
		} else {
			o.Settings = &settings.Settings{}
		}
	}
	return o
}
