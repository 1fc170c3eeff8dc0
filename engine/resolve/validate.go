package resolve

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/httpx"
)

// Validation is the diagnostic record of one link check.
type Validation = notice.Validation

// Validator checks whether a URL leads to real content.
type Validator interface {
	Validate(ctx context.Context, rawURL, referer string) Validation
}

// Requester is the subset of httpx.Client used by HTTPValidator.
type Requester interface {
	Head(ctx context.Context, rawURL string, opts ...httpx.Option) (*httpx.Response, error)
	Get(ctx context.Context, rawURL string, opts ...httpx.Option) (*httpx.Response, error)
}

const (
	defaultValidateTimeout = 12 * time.Second
	validateBodyCap        = 64 << 10
	metaRefreshWindow      = 5000
	minContentBytes        = 200
)

var okContentTypes = []string{
	"text/html",
	"application/pdf",
	"application/octet-stream",
	"application/msword",
	"application/vnd.openxmlformats",
}

var metaRefresh = regexp.MustCompile(`(?i)<meta[^>]+http-equiv=["']?refresh["']?[^>]*content=["']?[^>]*url\s*=\s*['"]?([^"' >;]+)`)

// HTTPValidator validates links with HEAD then GET, following at most
// MaxMetaHops meta-refresh redirects.
type HTTPValidator struct {
	Client      Requester
	Timeout     time.Duration
	MaxMetaHops int
}

// NewHTTPValidator returns a validator with a 12s timeout and one
// meta-refresh hop.
func NewHTTPValidator(c Requester) *HTTPValidator {
	return &HTTPValidator{Client: c, Timeout: defaultValidateTimeout, MaxMetaHops: 1}
}

// Validate never returns an error; failures are described in the notes.
func (v *HTTPValidator) Validate(ctx context.Context, rawURL, referer string) Validation {
	res := v.check(ctx, rawURL, referer)
	for hop := 0; hop < v.MaxMetaHops && res.next != ""; hop++ {
		next := v.check(ctx, res.next, referer)
		res.Valid = next.Valid
		res.Status = next.Status
		res.FinalURL = next.FinalURL
		res.ContentType = next.ContentType
		res.Hops += next.Hops
		res.Note = "meta-refresh→" + res.next
		if res.RefreshedTo == "" {
			res.RefreshedTo = res.next
		}
		res.next = next.next
	}
	return res.Validation
}

type checked struct {
	Validation
	next string
}

func (v *HTTPValidator) check(ctx context.Context, rawURL, referer string) checked {
	out := checked{Validation: Validation{FinalURL: rawURL}}
	if strings.TrimSpace(rawURL) == "" {
		out.Note = "empty-url"
		return out
	}
	opts := []httpx.Option{httpx.WithTimeout(v.timeout()), httpx.WithReferer(referer)}

	out.TriedHead = true
	hr, err := v.Client.Head(ctx, rawURL, opts...)
	if err != nil {
		out.Note = fmt.Sprintf("head_err:%v", err)
	} else {
		out.record(hr)
		if hr.OK() {
			out.Valid = true
			return out
		}
	}

	out.TriedGet = true
	gr, err := v.Client.Get(ctx, rawURL, append(opts, httpx.WithMaxBody(validateBodyCap))...)
	if err != nil {
		out.Note = fmt.Sprintf("get_err:%v", err)
		return out
	}
	out.record(gr)
	if gr.Status < http.StatusOK || gr.Status >= http.StatusBadRequest || !looksLikeContent(gr) {
		out.Note = fmt.Sprintf("get_bad_status:%d", gr.Status)
		return out
	}
	out.Valid = true
	if strings.Contains(strings.ToLower(gr.ContentType), "text/html") {
		if next := metaRefreshTarget(gr.Body, gr.FinalURL); next != "" && next != gr.FinalURL {
			out.next = next
		}
	}
	return out
}

func (c *checked) record(r *httpx.Response) {
	c.Status = r.Status
	c.FinalURL = r.FinalURL
	c.ContentType = r.ContentType
	c.Hops = r.Hops
}

func (v *HTTPValidator) timeout() time.Duration {
	if v.Timeout > 0 {
		return v.Timeout
	}
	return defaultValidateTimeout
}

func looksLikeContent(r *httpx.Response) bool {
	ct := strings.ToLower(r.ContentType)
	for _, t := range okContentTypes {
		if strings.Contains(ct, t) {
			return true
		}
	}
	return r.ContentLength > minContentBytes || len(r.Body) > minContentBytes
}

func metaRefreshTarget(body []byte, base string) string {
	if len(body) > metaRefreshWindow {
		body = body[:metaRefreshWindow]
	}
	m := metaRefresh.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return absURL(strings.Trim(string(m[1]), `'"`), base)
}
