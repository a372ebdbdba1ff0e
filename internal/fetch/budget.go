package fetch

import "context"

// Budget caps the number of network fetches in flight at once across every
// fetch path sharing one request — subscriptions (FetchAll) and rulesets
// (ruleset.Engine) alike — per spec.md §5: "Total outstanding fetches per
// request is capped (default 32)." A nil *Budget imposes no bound beyond
// whatever per-path Concurrency setting already applies.
type Budget struct {
	sem chan struct{}
}

// NewBudget returns a Budget allowing at most n outstanding fetches at
// once. n<=0 defaults to 32, per spec.md §5.
func NewBudget(n int) *Budget {
	if n <= 0 {
		n = 32
	}
	return &Budget{sem: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done. A nil Budget always
// succeeds immediately.
func (b *Budget) Acquire(ctx context.Context) error {
	if b == nil {
		return nil
	}
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired by Acquire. A nil Budget is a no-op.
func (b *Budget) Release() {
	if b == nil {
		return
	}
	<-b.sem
}
