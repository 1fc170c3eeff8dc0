// Package sources holds what the site adapters share: the HTTP surface they
// need and a few markup helpers.
package sources

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/httpx"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

// Client is the subset of *httpx.Client the adapters use.
type Client interface {
	Get(ctx context.Context, rawURL string, opts ...httpx.Option) (*httpx.Response, error)
	Document(ctx context.Context, rawURL string, opts ...httpx.Option) (*goquery.Document, *httpx.Response, error)
	PostDocument(ctx context.Context, rawURL string, form url.Values, opts ...httpx.Option) (*goquery.Document, *httpx.Response, error)
}

// Pages returns override when positive, otherwise requested, and never less
// than one.
func Pages(requested, override int) int {
	if override > 0 {
		return override
	}
	return max(requested, 1)
}

// PageFunc fetches one listing page, numbered from 1.
type PageFunc func(ctx context.Context, page int) ([]notice.RawRecord, error)

// Paginate calls page for 1..pages and stops early at the first page that
// yields no records. A failing first page is returned as the error; later
// failures end pagination with what was collected so far.
func Paginate(ctx context.Context, pages int, page PageFunc, log logger.Logger) ([]notice.RawRecord, error) {
	var out []notice.RawRecord
	for p := 1; p <= pages; p++ {
		if err := ctx.Err(); err != nil {
			if len(out) == 0 {
				return nil, err
			}
			break
		}
		recs, err := page(ctx, p)
		if err != nil {
			if len(out) == 0 {
				return nil, err
			}
			log.Warn("Page failed, keeping earlier pages", logger.Int("page", p), logger.Error(err))
			break
		}
		if len(recs) == 0 {
			break
		}
		out = append(out, recs...)
	}
	return out, nil
}

// AbsURL resolves href against base. Placeholder hrefs and unparsable input
// yield "".
func AbsURL(base, href string) string {
	href = strings.TrimSpace(href)
	if notice.IsPlaceholderLink(href) {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}

// Text is the cleaned text of the first element matching selector in s.
func Text(s *goquery.Selection, selector string) string {
	return normalize.SelectionText(s.Find(selector).First())
}

// FirstOf returns the first non-empty match among selectors.
func FirstOf(s *goquery.Selection, selectors ...string) *goquery.Selection {
	for _, sel := range selectors {
		if m := s.Find(sel); m.Length() > 0 {
			return m.First()
		}
	}
	return s.Find("__none__")
}

var quotedArg = regexp.MustCompile(`['"]([^'"]*)['"]`)

// CallArgs extracts the quoted arguments of a javascript call such as
// fn('a','b') found in s.
func CallArgs(s string) []string {
	var out []string
	for _, m := range quotedArg.FindAllStringSubmatch(s, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// Seen is a first-wins string set.
type Seen map[string]struct{}

// Add reports whether k was new. Empty keys are always new.
func (s Seen) Add(k string) bool {
	if k == "" {
		return true
	}
	if _, ok := s[k]; ok {
		return false
	}
	s[k] = struct{}{}
	return true
}
