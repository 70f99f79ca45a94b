package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/mihomocli/internal/model"
)

// DefaultUserAgent is sent when a request carries no User-Agent of its own.
// Providers key their output format off it, so it must look like a Mihomo client.
const DefaultUserAgent = "clash-verge/v2.4.2"

type Kind int

const (
	KindSubscription Kind = iota
	KindTemplate
	KindResource
)

func (k Kind) stage() string {
	switch k {
	case KindSubscription:
		return "fetch_sub"
	case KindTemplate:
		return "fetch_template"
	case KindResource:
		return "fetch_resource"
	default:
		return "fetch"
	}
}

func (k Kind) defaultMaxBytes() int64 {
	switch k {
	case KindSubscription:
		return 5 * 1024 * 1024
	case KindTemplate:
		return 2 * 1024 * 1024
	case KindResource:
		// geosite.dat is the largest artifact and grows every release.
		return 128 * 1024 * 1024
	default:
		return 1 * 1024 * 1024
	}
}

// text kinds must decode as UTF-8; resources are binary.
func (k Kind) text() bool { return k != KindResource }

type Options struct {
	Timeout      time.Duration // default 30s
	MaxBytes     int64         // default per kind
	MaxRedirects int           // default 5

	// Transport overrides http.DefaultTransport (tests, proxies).
	Transport http.RoundTripper
}

// Request describes one conditional GET.
type Request struct {
	URL       string
	UserAgent string

	// Validators from a previous response. Empty values are not sent.
	ETag         string
	LastModified string
}

type Response struct {
	StatusCode   int
	NotModified  bool
	Body         []byte
	ETag         string
	LastModified string
}

type FetchError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

var (
	errTooManyRedirects   = errors.New("too many redirects")
	errRedirectBadScheme  = errors.New("redirect target scheme is not http/https")
	errInvalidURLOrScheme = errors.New("invalid url or scheme")
)

// Get performs a GET for req. A 304 answer is not an error: it returns a
// Response with NotModified set and no body.
func Get(ctx context.Context, kind Kind, req Request, opt Options) (*Response, error) {
	stage := kind.stage()
	fail := func(status int, code, msg string, cause error) error {
		return &FetchError{
			Status:   status,
			AppError: model.AppError{Code: code, Message: msg, Stage: stage, URL: req.URL},
			Cause:    cause,
		}
	}

	timeout := opt.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxRedirects := opt.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = 5
	}
	maxBytes := opt.MaxBytes
	if maxBytes == 0 {
		maxBytes = kind.defaultMaxBytes()
	}
	if maxBytes <= 0 {
		return nil, fail(http.StatusBadRequest, "INVALID_ARGUMENT", "响应大小上限必须大于 0", nil)
	}

	u, err := url.Parse(req.URL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fail(http.StatusBadRequest, "INVALID_ARGUMENT", "仅允许 http/https URL", errors.Join(errInvalidURLOrScheme, err))
	}

	transport := opt.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return errTooManyRedirects
			}
			if r.URL.Scheme != "http" && r.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fail(http.StatusBadRequest, "INVALID_ARGUMENT", "请求 URL 不合法", err)
	}
	ua := req.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	hreq.Header.Set("User-Agent", ua)
	if req.ETag != "" {
		hreq.Header.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != "" {
		hreq.Header.Set("If-Modified-Since", req.LastModified)
	}

	resp, err := client.Do(hreq)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		switch {
		case errors.Is(err, errTooManyRedirects):
			return nil, fail(http.StatusBadGateway, "FETCH_FAILED", fmt.Sprintf("重定向次数超过上限（>%d）", maxRedirects), err)
		case errors.Is(err, errRedirectBadScheme):
			return nil, fail(http.StatusBadRequest, "INVALID_ARGUMENT", "重定向目标仅允许 http/https", err)
		case isTimeout(err):
			return nil, fail(http.StatusGatewayTimeout, "FETCH_TIMEOUT", "拉取远程资源超时", err)
		default:
			return nil, fail(http.StatusBadGateway, "FETCH_FAILED", "拉取远程资源失败", err)
		}
	}
	defer resp.Body.Close()

	out := &Response{
		StatusCode:   resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	if resp.StatusCode == http.StatusNotModified {
		out.NotModified = true
		return out, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fail(http.StatusBadGateway, "FETCH_FAILED", fmt.Sprintf("上游返回非 2xx 状态码：%d", resp.StatusCode), nil)
	}

	// Read at most maxBytes+1 to detect overflow deterministically.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		if isTimeout(err) {
			return nil, fail(http.StatusGatewayTimeout, "FETCH_TIMEOUT", "拉取远程资源超时", err)
		}
		return nil, fail(http.StatusBadGateway, "FETCH_FAILED", "读取上游响应失败", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fail(http.StatusUnprocessableEntity, "TOO_LARGE", fmt.Sprintf("远程资源过大（>%d bytes）", maxBytes), nil)
	}
	if kind.text() && !utf8.Valid(body) {
		return nil, fail(http.StatusUnprocessableEntity, "FETCH_INVALID_UTF8", "远程资源不是合法 UTF-8 文本", nil)
	}
	out.Body = body
	return out, nil
}

// Timeout detection: Go may wrap errors (e.g. *url.Error).
func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
