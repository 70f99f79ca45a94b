// Package source resolves a subscription record to raw bytes: local files are
// read directly, remote URLs are revalidated against the cache and fall back
// to it when the network lets us down.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/John-Robertt/mihomocli/internal/cache"
	"github.com/John-Robertt/mihomocli/internal/fetch"
	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/store"
)

const stage = "fetch_sub"

// Error is a soft failure: the subscription contributes nothing to the run.
type Error struct {
	AppError model.AppError
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

type Options struct {
	UserAgent string
	Fetch     fetch.Options

	// Now defaults to time.Now.
	Now func() time.Time
}

// Result is the resolved payload of one subscription.
type Result struct {
	Body         []byte
	ETag         string
	LastModified string
	FromCache    bool

	// Warnings describe degraded resolutions (cache fallback, cache write failure).
	Warnings []model.Warning
}

// Fetcher is safe for concurrent use on distinct subscription records.
type Fetcher struct {
	cache cache.Store
	opt   Options
	group singleflight.Group
}

// New returns a Fetcher. A nil store disables caching.
func New(store cache.Store, opt Options) *Fetcher {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Fetcher{cache: store, opt: opt}
}

// Fetch resolves sub and updates its validators and last_updated in place.
// Every returned error is a *Error.
func (f *Fetcher) Fetch(ctx context.Context, sub *store.Subscription) (*Result, error) {
	switch sub.EffectiveKind() {
	case store.KindClash:
	default:
		return nil, f.fail(sub, "SOURCE_KIND_UNSUPPORTED", fmt.Sprintf("不支持的订阅类型：%s", sub.Kind), nil)
	}
	switch {
	case sub.URL != "":
		return f.fetchURL(ctx, sub)
	case sub.Path != "":
		return f.readPath(sub)
	default:
		return nil, f.fail(sub, "SOURCE_EMPTY", "订阅既没有 url 也没有 path", nil)
	}
}

func (f *Fetcher) readPath(sub *store.Subscription) (*Result, error) {
	data, err := os.ReadFile(sub.Path)
	if err != nil {
		return nil, f.fail(sub, "SOURCE_READ_ERROR", "读取本地订阅文件失败", err)
	}
	now := f.opt.Now()
	sub.LastUpdated = &now
	return &Result{Body: data}, nil
}

func (f *Fetcher) fetchURL(ctx context.Context, sub *store.Subscription) (*Result, error) {
	sub.EnsureID()
	var warnings []model.Warning

	var cached *cache.Entry
	if f.cache != nil {
		e, err := f.cache.Load(ctx, sub.ID)
		switch {
		case err == nil:
			cached = e
		case errors.Is(err, cache.ErrNotFound):
		default:
			warnings = append(warnings, warningFrom(err, sub.URL, "CACHE_READ_FAILED", "读取订阅缓存失败"))
		}
	}

	req := fetch.Request{
		URL:          sub.URL,
		UserAgent:    f.opt.UserAgent,
		ETag:         sub.ETag,
		LastModified: sub.LastModified,
	}
	if cached != nil {
		if req.ETag == "" {
			req.ETag = cached.ETag
		}
		if req.LastModified == "" {
			req.LastModified = cached.LastModified
		}
	}
	// Same URL with the same validators in one run hits the network once.
	key := req.URL + "\x00" + req.ETag + "\x00" + req.LastModified
	v, err, _ := f.group.Do(key, func() (any, error) {
		return fetch.Get(ctx, fetch.KindSubscription, req, f.opt.Fetch)
	})
	now := f.opt.Now()

	if err != nil {
		if cached == nil {
			return nil, f.fail(sub, "SOURCE_UNAVAILABLE", "拉取订阅失败且没有可用缓存", err)
		}
		sub.LastUpdated = &now
		warnings = append(warnings, warningFrom(err, sub.URL, "SOURCE_CACHE_FALLBACK", "拉取订阅失败，已使用缓存"))
		return cachedResult(cached, warnings), nil
	}

	resp := v.(*fetch.Response)
	if resp.NotModified {
		if cached == nil {
			return nil, f.fail(sub, "SOURCE_NOT_MODIFIED_NO_CACHE", "上游返回 304 但本地没有缓存", nil)
		}
		sub.ETag = firstNonEmpty(resp.ETag, req.ETag)
		sub.LastModified = firstNonEmpty(resp.LastModified, req.LastModified)
		sub.LastUpdated = &now
		return cachedResult(cached, warnings), nil
	}

	sub.ETag = firstNonEmpty(resp.ETag, cachedETag(cached))
	sub.LastModified = firstNonEmpty(resp.LastModified, cachedLastModified(cached))
	sub.LastUpdated = &now
	if f.cache != nil {
		entry := cache.Entry{
			ID:           sub.ID,
			Body:         resp.Body,
			ETag:         resp.ETag,
			LastModified: resp.LastModified,
			UpdatedAt:    now,
		}
		if err := f.cache.Save(ctx, entry); err != nil {
			warnings = append(warnings, warningFrom(err, sub.URL, "CACHE_WRITE_FAILED", "写入订阅缓存失败"))
		}
	}
	return &Result{
		Body:         resp.Body,
		ETag:         sub.ETag,
		LastModified: sub.LastModified,
		Warnings:     warnings,
	}, nil
}

func cachedResult(e *cache.Entry, warnings []model.Warning) *Result {
	return &Result{
		Body:         e.Body,
		ETag:         e.ETag,
		LastModified: e.LastModified,
		FromCache:    true,
		Warnings:     warnings,
	}
}

func cachedETag(e *cache.Entry) string {
	if e == nil {
		return ""
	}
	return e.ETag
}

func cachedLastModified(e *cache.Entry) string {
	if e == nil {
		return ""
	}
	return e.LastModified
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (f *Fetcher) fail(sub *store.Subscription, code, msg string, cause error) error {
	return &Error{
		AppError: model.AppError{
			Code:    code,
			Message: msg,
			Stage:   stage,
			URL:     sub.Source(),
			Hint:    causeHint(cause),
		},
		Cause: cause,
	}
}

// warningFrom keeps the upstream error text as the hint.
func warningFrom(err error, url, code, msg string) model.Warning {
	return model.Warning{
		Code:    code,
		Message: msg,
		Stage:   stage,
		URL:     url,
		Hint:    causeHint(err),
	}
}

func causeHint(err error) string {
	if err == nil {
		return ""
	}
	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		return fe.AppError.Code + ": " + fe.AppError.Message
	}
	return model.TruncateSnippet(err.Error(), 200)
}
