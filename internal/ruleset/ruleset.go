// Package ruleset implements the Ruleset Engine (spec.md §4.5): given a
// list of ruleset references, it fetches, classifies, normalizes and
// caches their bodies, returning (target_group, []match-lines) pairs.
// script rulesets are kept opaque for targets that support them.
package ruleset

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/rules"
)

// RulesetError is fatal to the affected generator unless it can degrade
// (spec.md §7).
type RulesetError struct {
	AppError model.AppError
	Cause    error
}

func (e *RulesetError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *RulesetError) Unwrap() error { return e.Cause }

// Ref is one ruleset reference from a profile/external config: a URL (or
// inline text) bound to a target group, with a declared behavior.
type Ref struct {
	URL         string // fetched when Inline == ""
	Inline      string // inline ruleset text, bypasses the fetcher
	Behavior    model.RulesetBehavior
	TargetGroup string
}

// Fetcher abstracts the Subscription Fetcher's text-fetch capability so
// this package has no direct HTTP dependency (spec.md §9's WASM-target
// design note: I/O stays behind an interface).
type Fetcher func(ctx context.Context, url string) (string, error)

// FetchBudget optionally bounds the total number of network fetches in
// flight across every fetch path sharing one request (subscriptions and
// rulesets alike), per spec.md §5 ("Total outstanding fetches per request
// is capped"). *fetch.Budget satisfies this without ruleset importing the
// fetch package. A nil FetchBudget passed to Resolve imposes no such cap.
type FetchBudget interface {
	Acquire(ctx context.Context) error
	Release()
}

// Options configures an Engine beyond its Fetcher/TTL.
type Options struct {
	// Concurrency bounds how many refs Resolve fetches at once, per
	// spec.md §5 ("Ruleset fetches share the fetcher pool"). Default 8,
	// matching the subscription fetcher's own default pool size.
	Concurrency int
}

// Engine holds the process-wide ruleset cache plus the in-flight
// coalescing map described in spec.md §4.5/§9.
type Engine struct {
	fetch       Fetcher
	ttl         time.Duration
	concurrency int

	mu       sync.Mutex
	cache    map[string]cacheEntry // key: url+"|"+behavior
	inFlight map[string]*inFlightFetch
}

type cacheEntry struct {
	contentHash string
	body        string
	fetchedAt   time.Time
}

type inFlightFetch struct {
	done chan struct{}
	body string
	err  error
}

// New builds an Engine with the given fetch function and cache TTL, using
// the default fetch concurrency (8).
func New(fetch Fetcher, ttl time.Duration) *Engine {
	return NewWithOptions(fetch, ttl, Options{})
}

// NewWithOptions builds an Engine with explicit pool sizing.
func NewWithOptions(fetch Fetcher, ttl time.Duration, opt Options) *Engine {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	concurrency := opt.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Engine{
		fetch:       fetch,
		ttl:         ttl,
		concurrency: concurrency,
		cache:       make(map[string]cacheEntry),
		inFlight:    make(map[string]*inFlightFetch),
	}
}

// Resolve fetches (or serves from cache) and classifies every ref,
// returning one model.Ruleset per ref in input order. Fetches for distinct
// URLs run with bounded concurrency (Engine's own pool size, default 8);
// concurrent requests for the same (url, behavior) within one call coalesce
// onto a single in-flight fetch, per spec.md §4.5. budget, if non-nil, is
// shared with any other fetch path active in the same request and caps
// total outstanding fetches across all of them, per spec.md §5; it may be
// nil.
func (e *Engine) Resolve(ctx context.Context, refs []Ref, budget FetchBudget) ([]model.Ruleset, error) {
	out := make([]model.Ruleset, len(refs))
	errs := make([]error, len(refs))

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		go func(i int, ref Ref) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			rs, err := e.resolveOne(ctx, ref, budget)
			out[i] = rs
			errs[i] = err
		}(i, ref)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Engine) resolveOne(ctx context.Context, ref Ref, budget FetchBudget) (model.Ruleset, error) {
	var body string
	var err error
	if ref.Inline != "" {
		body = ref.Inline
	} else {
		body, err = e.fetchCached(ctx, ref.URL, ref.Behavior, budget)
		if err != nil {
			return model.Ruleset{}, &RulesetError{AppError: model.AppError{
				Code:    "RULESET_FETCH_ERROR",
				Message: fmt.Sprintf("failed to fetch ruleset: %s", ref.URL),
				Stage:   "ruleset_fetch",
				URL:     ref.URL,
			}, Cause: err}
		}
	}

	rs := model.Ruleset{URL: ref.URL, Behavior: ref.Behavior, TargetGroup: ref.TargetGroup, ContentHash: contentHash(body)}

	switch ref.Behavior {
	case model.RulesetScript:
		rs.ScriptBody = body
		return rs, nil
	case model.RulesetDomain:
		lines, err := normalizeDomainLines(body, ref.TargetGroup)
		if err != nil {
			return model.Ruleset{}, err
		}
		rs.Lines = lines
		return rs, nil
	case model.RulesetIPCIDR:
		lines, err := normalizeIPCIDRLines(body, ref.TargetGroup)
		if err != nil {
			return model.Ruleset{}, err
		}
		rs.Lines = lines
		return rs, nil
	default: // classical
		mLines, err := rules.ParseRulesetText(ref.URL, body, ref.TargetGroup)
		if err != nil {
			return model.Ruleset{}, err
		}
		rs.Lines = mLines
		return rs, nil
	}
}

// fetchCached looks up (url, behavior) in the content cache; on a miss it
// coalesces concurrent callers onto one fetch via the in-flight map, then
// stores the result in the content cache under the same url+"|"+behavior
// key, with the body's content hash kept in the entry. budget is
// only acquired around the actual network fetch, never on a cache hit.
func (e *Engine) fetchCached(ctx context.Context, url string, behavior model.RulesetBehavior, budget FetchBudget) (string, error) {
	key := url + "|" + string(behavior)

	e.mu.Lock()
	if entry, ok := e.cache[key]; ok && time.Since(entry.fetchedAt) < e.ttl {
		e.mu.Unlock()
		return entry.body, nil
	}
	if fl, ok := e.inFlight[key]; ok {
		e.mu.Unlock()
		<-fl.done
		return fl.body, fl.err
	}

	fl := &inFlightFetch{done: make(chan struct{})}
	e.inFlight[key] = fl
	e.mu.Unlock()

	var body string
	var err error
	if budget == nil {
		body, err = e.fetch(ctx, url)
	} else if acqErr := budget.Acquire(ctx); acqErr != nil {
		err = acqErr
	} else {
		body, err = e.fetch(ctx, url)
		budget.Release()
	}

	e.mu.Lock()
	fl.body, fl.err = body, err
	close(fl.done)
	delete(e.inFlight, key)
	if err == nil {
		e.cache[key] = cacheEntry{contentHash: contentHash(body), body: body, fetchedAt: timeNow()}
	}
	e.mu.Unlock()

	return body, err
}

// timeNow stamps a cache entry's fetchedAt; the expiry check in
// fetchCached compares against the wall clock via time.Since.
var timeNow = time.Now

func contentHash(s string) string {
	// FNV-1a: fast, stdlib, sufficient for a cache dedup key (not a security
	// boundary).
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return fmt.Sprintf("%016x", h)
}

func normalizeDomainLines(body, action string) ([]model.Rule, error) {
	var out []model.Rule
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		typ := model.RuleDomainSuffix
		if strings.HasPrefix(line, "*.") {
			line = strings.TrimPrefix(line, "*.")
		} else if !strings.Contains(line, "*") {
			typ = model.RuleDomain
		}
		out = append(out, model.Rule{Type: typ, Value: line, Action: action})
	}
	return out, nil
}

func normalizeIPCIDRLines(body, action string) ([]model.Rule, error) {
	var out []model.Rule
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		typ := model.RuleIPCIDR
		if _, ipNet, err := net.ParseCIDR(line); err == nil && ipNet.IP.To4() == nil {
			typ = model.RuleIPCIDR6
		}
		out = append(out, model.Rule{Type: typ, Value: line, Action: action})
	}
	return out, nil
}
