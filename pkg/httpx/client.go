// Package httpx is the outbound HTTP client shared by source adapters and
// the link validator. It adds per-host politeness, circuit breaking, retry
// with backoff, redirect limits, bounded body reads and charset-aware HTML
// parsing on top of net/http.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"

	"github.com/noticewatch/noticewatch/pkg/fn"
	"github.com/noticewatch/noticewatch/pkg/logger"
	"github.com/noticewatch/noticewatch/pkg/resilience"
)

const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultAcceptLanguage = "ko-KR,ko;q=0.9,en;q=0.8"
	DefaultTimeout        = 20 * time.Second
	DefaultMaxBody        = 8 << 20
)

// Observer receives one call per attempted request.
type Observer interface {
	ObserveRequest(host string, status int, err error, elapsed time.Duration)
}

// Options configures a Client. Zero values take defaults.
type Options struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	MaxBody        int64
	MaxRedirects   int
	Retry          fn.RetryOpts
	Limiter        resilience.LimiterOpts
	Breaker        resilience.BreakerOpts
	// Transport is the base round tripper; it is wrapped with otelhttp.
	Transport http.RoundTripper
	Observer  Observer
	Logger    logger.Logger
}

func (o *Options) setDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.AcceptLanguage == "" {
		o.AcceptLanguage = DefaultAcceptLanguage
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxBody <= 0 {
		o.MaxBody = DefaultMaxBody
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = 10
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = fn.DefaultRetry
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
}

// Client performs polite, retried HTTP requests.
type Client struct {
	hc       *http.Client
	opts     Options
	limiter  *resilience.HostLimiter
	breakers *resilience.BreakerSet
	log      logger.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	opts.setDefaults()
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &Client{
		hc: &http.Client{
			Transport:     otelhttp.NewTransport(base),
			Jar:           jar,
			CheckRedirect: RedirectPolicy(opts.MaxRedirects),
		},
		opts:     opts,
		limiter:  resilience.NewHostLimiter(opts.Limiter),
		breakers: resilience.NewBreakerSet(opts.Breaker),
		log:      opts.Logger,
	}
}

// Response is a fully read HTTP response.
type Response struct {
	Status        int
	FinalURL      string
	ContentType   string
	ContentLength int64
	Header        http.Header
	Body          []byte
	Truncated     bool
	Hops          int
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Request describes one logical request. Retries reuse it.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Form    url.Values
	Timeout time.Duration
	MaxBody int64
	NoRetry bool
}

// Option customizes a Request.
type Option func(*Request)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option { return func(r *Request) { r.Timeout = d } }

// WithMaxBody caps how many body bytes are read.
func WithMaxBody(n int64) Option { return func(r *Request) { r.MaxBody = n } }

// WithHeader sets a request header.
func WithHeader(key, value string) Option {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		r.Header.Set(key, value)
	}
}

// WithReferer sets the Referer header when ref is non-empty.
func WithReferer(ref string) Option {
	return func(r *Request) {
		if ref != "" {
			WithHeader("Referer", ref)(r)
		}
	}
}

// WithoutRetry makes a single attempt.
func WithoutRetry() Option { return func(r *Request) { r.NoRetry = true } }

// Get fetches rawURL.
func (c *Client) Get(ctx context.Context, rawURL string, opts ...Option) (*Response, error) {
	return c.Do(ctx, build(http.MethodGet, rawURL, nil, opts))
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, rawURL string, opts ...Option) (*Response, error) {
	return c.Do(ctx, build(http.MethodHead, rawURL, nil, opts))
}

// PostForm submits form as application/x-www-form-urlencoded.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, opts ...Option) (*Response, error) {
	return c.Do(ctx, build(http.MethodPost, rawURL, form, opts))
}

// Document fetches rawURL and parses it as HTML.
func (c *Client) Document(ctx context.Context, rawURL string, opts ...Option) (*goquery.Document, *Response, error) {
	resp, err := c.Get(ctx, rawURL, opts...)
	if err != nil {
		return nil, nil, err
	}
	if !resp.OK() {
		return nil, resp, &StatusError{Method: http.MethodGet, URL: rawURL, Status: resp.Status}
	}
	doc, err := ParseDocument(resp)
	return doc, resp, err
}

// PostDocument submits form and parses the answer as HTML.
func (c *Client) PostDocument(ctx context.Context, rawURL string, form url.Values, opts ...Option) (*goquery.Document, *Response, error) {
	resp, err := c.PostForm(ctx, rawURL, form, opts...)
	if err != nil {
		return nil, nil, err
	}
	if !resp.OK() {
		return nil, resp, &StatusError{Method: http.MethodPost, URL: rawURL, Status: resp.Status}
	}
	doc, err := ParseDocument(resp)
	return doc, resp, err
}

// ParseDocument decodes resp.Body using the declared or sniffed charset.
func ParseDocument(resp *Response) (*goquery.Document, error) {
	r, err := charset.NewReader(bytes.NewReader(resp.Body), resp.ContentType)
	if err != nil {
		r = bytes.NewReader(resp.Body)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", resp.FinalURL, err)
	}
	if u, perr := url.Parse(resp.FinalURL); perr == nil {
		doc.Url = u
	}
	return doc, nil
}

// StatusError reports a non-2xx answer where a document was expected.
type StatusError struct {
	Method string
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
}

func build(method, rawURL string, form url.Values, opts []Option) Request {
	r := Request{Method: method, URL: rawURL, Form: form}
	for _, o := range opts {
		o(&r)
	}
	return r
}

// retryableStatus is a response status worth another attempt.
type retryableStatus struct{ resp *Response }

func (e *retryableStatus) Error() string { return fmt.Sprintf("retryable status %d", e.resp.Status) }

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do executes req. Network failures and 429/5xx answers are retried; once
// retries run out a retryable status is returned as a Response, network
// failures as an error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", req.URL)
	}
	host := u.Hostname()

	opts := c.opts.Retry
	if req.NoRetry {
		opts.MaxAttempts = 1
	}
	opts.OnRetry = func(attempt int, err error) {
		c.log.Debug("retrying request",
			logger.String("method", req.Method),
			logger.String("url", req.URL),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
	}

	result := fn.Retry(ctx, opts, func(ctx context.Context) fn.Result[*Response] {
		if err := c.limiter.Wait(ctx, host); err != nil {
			return fn.Err[*Response](fn.Permanent(err))
		}
		var resp *Response
		err := c.breakers.For(host).Call(ctx, func(ctx context.Context) error {
			var err error
			resp, err = c.attempt(ctx, req)
			if err == nil && isRetryableStatus(resp.Status) {
				return &retryableStatus{resp: resp}
			}
			return err
		}, countsAgainstHost)
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			return fn.Err[*Response](fn.Permanent(fmt.Errorf("%s: %w", host, err)))
		case errors.Is(err, ErrTooManyRedirects), ctx.Err() != nil:
			return fn.Err[*Response](fn.Permanent(err))
		case err != nil:
			return fn.Err[*Response](err)
		}
		return fn.Ok(resp)
	})

	resp, err := result.Get()
	var rs *retryableStatus
	if errors.As(err, &rs) {
		return rs.resp, nil
	}
	return resp, err
}

func countsAgainstHost(err error) bool {
	var rs *retryableStatus
	if errors.As(err, &rs) {
		return rs.resp.Status >= 500
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	hr.Header.Set("User-Agent", c.opts.UserAgent)
	hr.Header.Set("Accept-Language", c.opts.AcceptLanguage)
	hr.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if req.Form != nil {
		hr.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	for k, vs := range req.Header {
		hr.Header[k] = vs
	}

	start := time.Now()
	resp, err := c.hc.Do(hr)
	if err != nil {
		c.observe(hr.URL.Hostname(), 0, err, start)
		return nil, err
	}
	defer resp.Body.Close()

	limit := req.MaxBody
	if limit <= 0 {
		limit = c.opts.MaxBody
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		c.observe(hr.URL.Hostname(), resp.StatusCode, err, start)
		return nil, err
	}
	truncated := int64(len(data)) > limit
	if truncated {
		data = data[:limit]
	}
	c.observe(hr.URL.Hostname(), resp.StatusCode, nil, start)

	return &Response{
		Status:        resp.StatusCode,
		FinalURL:      resp.Request.URL.String(),
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Header:        resp.Header,
		Body:          data,
		Truncated:     truncated,
		Hops:          redirectHops(resp),
	}, nil
}

func (c *Client) observe(host string, status int, err error, start time.Time) {
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveRequest(host, status, err, time.Since(start))
	}
}

// BreakerStates exposes per-host breaker states.
func (c *Client) BreakerStates() map[string]resilience.State {
	return c.breakers.States()
}
