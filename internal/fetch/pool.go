package fetch

import (
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"
)

// Target is one subscription/profile/template source to fetch concurrently.
type Target struct {
	Tag  string // source-tag carried through to the matching Result
	URL  string
	Kind Kind
}

// Result is one Target's outcome. Text/UserInfo are empty when Err != nil.
type Result struct {
	Target   Target
	Text     string
	UserInfo string // raw "Subscription-Userinfo" header value, if present
	Err      error
}

// PoolOptions controls FetchAll's concurrency and retry behavior.
type PoolOptions struct {
	Concurrency  int // default 8, per spec.md §4.3/Settings.FetchConcurrency
	FetchOptions Options
	Retries      int           // default 3
	RetryBase    time.Duration // default 250ms, doubled per attempt
	Strict       bool          // false: a failed source becomes a Result with Err set, others still run

	// Budget, if set, is shared with any other fetch path (e.g. the ruleset
	// engine) active in the same request, capping total outstanding fetches
	// across all of them per spec.md §5. Nil means no cross-path cap.
	Budget *Budget
}

// FetchAll fetches every target with bounded concurrency, one rate limiter
// shared by all targets of the call (not keyed by host), and
// retry-with-backoff, per spec.md §4.3. It never returns an
// error itself; per-target failures are reported in the matching Result
// unless Strict is set, in which case the first failure cancels the rest.
func FetchAll(ctx context.Context, targets []Target, opt PoolOptions) []Result {
	concurrency := opt.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	retries := opt.Retries
	if retries <= 0 {
		retries = 3
	}
	retryBase := opt.RetryBase
	if retryBase <= 0 {
		retryBase = 250 * time.Millisecond
	}

	limiter := rate.NewLimiter(rate.Limit(concurrency*2), concurrency*2)
	sem := make(chan struct{}, concurrency)

	results := make([]Result, len(targets))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var failedOnce sync.Once
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := limiter.Wait(ctx); err != nil {
				results[i] = Result{Target: t, Err: err}
				return
			}

			if err := opt.Budget.Acquire(ctx); err != nil {
				results[i] = Result{Target: t, Err: err}
				return
			}
			defer opt.Budget.Release()

			text, userInfo, err := fetchWithRetry(ctx, t, opt.FetchOptions, retries, retryBase)
			results[i] = Result{Target: t, Text: text, UserInfo: userInfo, Err: err}
			if err != nil && opt.Strict {
				failedOnce.Do(cancel)
			}
		}(i, t)
	}
	wg.Wait()
	return results
}

func fetchWithRetry(ctx context.Context, t Target, opt Options, retries int, base time.Duration) (string, string, error) {
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", "", ctx.Err()
			case <-time.After(base * time.Duration(1<<uint(attempt-1))):
			}
		}
		text, userInfo, err := fetchOnceDecoded(ctx, t.Kind, t.URL, opt)
		if err == nil {
			return text, userInfo, nil
		}
		lastErr = err
		var fe *FetchError
		if errors.As(err, &fe) && fe.Status != 0 && fe.Status < 500 && fe.Status != http.StatusTooManyRequests {
			// Client-side errors (bad URL, too large, invalid UTF-8) never
			// improve on retry.
			return "", "", err
		}
	}
	return "", "", lastErr
}

// fetchOnceDecoded performs one HTTP GET with explicit Accept-Encoding
// negotiation and decodes gzip/deflate itself (Go's transport only
// auto-decodes gzip, and only when the caller never sets Accept-Encoding).
func fetchOnceDecoded(ctx context.Context, kind Kind, rawURL string, opt Options) (string, string, error) {
	stage := kind.stage()
	timeout := opt.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	maxBytes := opt.MaxBytes
	if maxBytes == 0 {
		maxBytes = kind.defaultMaxBytes()
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", &FetchError{Status: http.StatusBadRequest, AppError: model.AppError{
			Code: "INVALID_ARGUMENT", Message: "请求 URL 不合法", Stage: stage, URL: rawURL,
		}, Cause: err}
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", &FetchError{Status: http.StatusBadGateway, AppError: model.AppError{
			Code: "FETCH_FAILED", Message: "拉取远程资源失败", Stage: stage, URL: rawURL,
		}, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", &FetchError{Status: resp.StatusCode, AppError: model.AppError{
			Code:    "FETCH_FAILED",
			Message: fmt.Sprintf("上游返回非 2xx 状态码：%d", resp.StatusCode),
			Stage:   stage,
			URL:     rawURL,
		}}
	}

	reader, err := decodeBody(resp)
	if err != nil {
		return "", "", &FetchError{Status: http.StatusBadGateway, AppError: model.AppError{
			Code: "FETCH_FAILED", Message: "解码响应体失败", Stage: stage, URL: rawURL,
		}, Cause: err}
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return "", "", &FetchError{Status: http.StatusBadGateway, AppError: model.AppError{
			Code: "FETCH_FAILED", Message: "读取上游响应失败", Stage: stage, URL: rawURL,
		}, Cause: err}
	}
	if int64(len(body)) > maxBytes {
		return "", "", &FetchError{Status: http.StatusUnprocessableEntity, AppError: model.AppError{
			Code: "TOO_LARGE", Message: fmt.Sprintf("远程资源过大（>%d bytes）", maxBytes), Stage: stage, URL: rawURL,
		}}
	}
	if !utf8.Valid(body) {
		return "", "", &FetchError{Status: http.StatusUnprocessableEntity, AppError: model.AppError{
			Code: "FETCH_INVALID_UTF8", Message: "远程资源不是合法 UTF-8 文本", Stage: stage, URL: rawURL,
		}}
	}

	return string(body), resp.Header.Get("Subscription-Userinfo"), nil
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}
