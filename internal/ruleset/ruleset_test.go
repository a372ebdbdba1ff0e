package ruleset

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/John-Robertt/subconverter-go/internal/model"
)

func countingFetcher(body string, calls *int32) Fetcher {
	return func(ctx context.Context, url string) (string, error) {
		atomic.AddInt32(calls, 1)
		return body, nil
	}
}

func TestResolve_ClassicalLines(t *testing.T) {
	var calls int32
	e := New(countingFetcher("DOMAIN-SUFFIX,example.com\nDOMAIN,x.com,REJECT\n", &calls), time.Hour)

	out, err := e.Resolve(context.Background(), []Ref{
		{URL: "http://example/ruleset.list", Behavior: model.RulesetClassical, TargetGroup: "PROXY"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out[0].Lines) != 2 {
		t.Fatalf("expected 2 lines, got %+v", out[0].Lines)
	}
	if out[0].Lines[0].Action != "PROXY" {
		t.Fatalf("expected default action filled, got %q", out[0].Lines[0].Action)
	}
	if out[0].Lines[1].Action != "REJECT" {
		t.Fatalf("expected explicit action preserved, got %q", out[0].Lines[1].Action)
	}
}

func TestResolve_DomainBehaviorNormalizes(t *testing.T) {
	var calls int32
	e := New(countingFetcher("*.example.com\nplain.com\n", &calls), time.Hour)
	out, err := e.Resolve(context.Background(), []Ref{
		{URL: "http://example/domains.txt", Behavior: model.RulesetDomain, TargetGroup: "PROXY"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := out[0].Lines
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %+v", lines)
	}
	if lines[0].Type != model.RuleDomainSuffix || lines[0].Value != "example.com" {
		t.Fatalf("unexpected wildcard normalization: %+v", lines[0])
	}
	if lines[1].Type != model.RuleDomain || lines[1].Value != "plain.com" {
		t.Fatalf("unexpected plain-domain normalization: %+v", lines[1])
	}
}

func TestResolve_IPCIDRBehaviorDetectsV6(t *testing.T) {
	var calls int32
	e := New(countingFetcher("10.0.0.0/8\n2001:db8::/32\n", &calls), time.Hour)
	out, err := e.Resolve(context.Background(), []Ref{
		{URL: "http://example/cidrs.txt", Behavior: model.RulesetIPCIDR, TargetGroup: "PROXY"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := out[0].Lines
	if lines[0].Type != model.RuleIPCIDR {
		t.Fatalf("expected IPv4 classification, got %+v", lines[0])
	}
	if lines[1].Type != model.RuleIPCIDR6 {
		t.Fatalf("expected IPv6 classification, got %+v", lines[1])
	}
}

func TestResolve_ScriptBehaviorOpaque(t *testing.T) {
	var calls int32
	e := New(countingFetcher("function main() { return 'DIRECT' }", &calls), time.Hour)
	out, err := e.Resolve(context.Background(), []Ref{
		{URL: "http://example/script.js", Behavior: model.RulesetScript, TargetGroup: "PROXY"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].ScriptBody == "" || len(out[0].Lines) != 0 {
		t.Fatalf("expected opaque script body, got %+v", out[0])
	}
}

func TestResolve_CacheAvoidsRefetch(t *testing.T) {
	var calls int32
	e := New(countingFetcher("DOMAIN,x.com\n", &calls), time.Hour)
	ref := Ref{URL: "http://example/a.list", Behavior: model.RulesetClassical, TargetGroup: "PROXY"}

	if _, err := e.Resolve(context.Background(), []Ref{ref}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.Resolve(context.Background(), []Ref{ref}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one network fetch across two requests, got %d", got)
	}
}

func TestResolve_ConcurrentCallersCoalesce(t *testing.T) {
	var calls int32
	e := New(countingFetcher("DOMAIN,x.com\n", &calls), time.Hour)

	refs := make([]Ref, 8)
	for i := range refs {
		refs[i] = Ref{URL: "http://example/shared.list", Behavior: model.RulesetClassical, TargetGroup: "PROXY"}
	}
	out, err := e.Resolve(context.Background(), refs, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 8 {
		t.Fatalf("expected 8 results, got %d", len(out))
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one network fetch for coalesced concurrent refs, got %d", got)
	}
}

func TestResolve_TTLExpiryRefetches(t *testing.T) {
	var calls int32
	e := New(countingFetcher("DOMAIN,x.com\n", &calls), time.Millisecond)
	ref := Ref{URL: "http://example/ttl.list", Behavior: model.RulesetClassical, TargetGroup: "PROXY"}

	if _, err := e.Resolve(context.Background(), []Ref{ref}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := e.Resolve(context.Background(), []Ref{ref}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected refetch after TTL expiry, got %d calls", got)
	}
}

func TestResolve_InlineBypassesFetch(t *testing.T) {
	var calls int32
	e := New(countingFetcher("DOMAIN,x.com\n", &calls), time.Hour)
	out, err := e.Resolve(context.Background(), []Ref{
		{Inline: "DOMAIN,inline.com\n", Behavior: model.RulesetClassical, TargetGroup: "PROXY"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out[0].Lines) != 1 || out[0].Lines[0].Value != "inline.com" {
		t.Fatalf("unexpected inline parse result: %+v", out[0])
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("inline ref should never call the fetcher, got %d calls", got)
	}
}

func TestResolve_FetchErrorWrapped(t *testing.T) {
	boom := func(ctx context.Context, url string) (string, error) {
		return "", context.DeadlineExceeded
	}
	e := New(boom, time.Hour)
	_, err := e.Resolve(context.Background(), []Ref{
		{URL: "http://example/broken.list", Behavior: model.RulesetClassical, TargetGroup: "PROXY"},
	}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	var rerr *RulesetError
	if !asRulesetError(err, &rerr) {
		t.Fatalf("expected *RulesetError, got %T: %v", err, err)
	}
	if rerr.AppError.Code != "RULESET_FETCH_ERROR" {
		t.Fatalf("unexpected code: %s", rerr.AppError.Code)
	}
}

func asRulesetError(err error, target **RulesetError) bool {
	if e, ok := err.(*RulesetError); ok {
		*target = e
		return true
	}
	return false
}

// trackingBudget is a FetchBudget that records the maximum number of
// concurrently-held slots, so tests can assert a cap was actually enforced.
type trackingBudget struct {
	sem chan struct{}

	mu      sync.Mutex
	held    int
	maxHeld int
}

func newTrackingBudget(n int) *trackingBudget {
	return &trackingBudget{sem: make(chan struct{}, n)}
}

func (b *trackingBudget) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	b.held++
	if b.held > b.maxHeld {
		b.maxHeld = b.held
	}
	b.mu.Unlock()
	return nil
}

func (b *trackingBudget) Release() {
	b.mu.Lock()
	b.held--
	b.mu.Unlock()
	<-b.sem
}

func TestResolve_HonorsFetchBudget(t *testing.T) {
	const refCount = 12
	const budgetSize = 3

	release := make(chan struct{})
	blocking := func(ctx context.Context, url string) (string, error) {
		<-release
		return "DOMAIN,x.com\n", nil
	}

	e := NewWithOptions(blocking, time.Hour, Options{Concurrency: refCount})
	budget := newTrackingBudget(budgetSize)

	refs := make([]Ref, refCount)
	for i := range refs {
		refs[i] = Ref{URL: fmt.Sprintf("http://example/%d.list", i), Behavior: model.RulesetClassical, TargetGroup: "PROXY"}
	}

	done := make(chan struct{})
	go func() {
		if _, err := e.Resolve(context.Background(), refs, budget); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		close(done)
	}()

	// Give every goroutine a chance to reach Acquire before releasing fetches.
	time.Sleep(50 * time.Millisecond)
	close(release)
	<-done

	budget.mu.Lock()
	defer budget.mu.Unlock()
	if budget.maxHeld > budgetSize {
		t.Fatalf("budget exceeded: maxHeld=%d, want<=%d", budget.maxHeld, budgetSize)
	}
	if budget.maxHeld < budgetSize {
		t.Fatalf("budget never saturated: maxHeld=%d, want=%d (fan-out too low to exercise the cap)", budget.maxHeld, budgetSize)
	}
}

func TestResolve_EngineConcurrencyBoundsFanOut(t *testing.T) {
	const refCount = 10
	const concurrency = 2

	var inFlight, maxInFlight int32
	release := make(chan struct{})
	tracking := func(ctx context.Context, url string) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxInFlight)
			if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return "DOMAIN,x.com\n", nil
	}

	e := NewWithOptions(tracking, time.Hour, Options{Concurrency: concurrency})
	refs := make([]Ref, refCount)
	for i := range refs {
		refs[i] = Ref{URL: fmt.Sprintf("http://example/%d.list", i), Behavior: model.RulesetClassical, TargetGroup: "PROXY"}
	}

	done := make(chan struct{})
	go func() {
		if _, err := e.Resolve(context.Background(), refs, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	<-done

	if got := atomic.LoadInt32(&maxInFlight); got > int32(concurrency) {
		t.Fatalf("engine exceeded its own concurrency bound: maxInFlight=%d, want<=%d", got, concurrency)
	}
}
