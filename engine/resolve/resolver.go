// Package resolve finds the original destination link behind an
// aggregator detail page and validates it over HTTP.
package resolve

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/httpx"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

// Meta keys written on resolved notices.
const (
	MetaListedDate   = "목록상_등록일"
	MetaDetailURL    = "상세_URL"
	MetaListCategory = "목록_구분"
	MetaGoLinkType   = "go_link_type"
	MetaDetailBackup = "detail_backup"
	MetaFallbackFrom = "fallback_from"
	MetaLandingURL   = "landing_url"
)

// Skip notes.
const (
	NoteBadCandidate    = "placeholder-or-bad-candidate"
	NoteNoValidFallback = "no-valid-fallback"
)

// Target is a listing entry whose detail page should be resolved.
type Target struct {
	Title           string
	Date            string
	DetailURL       string
	ListInstitution string
}

// Outcome is the terminal decision for one Target. When Resolved is false
// Skip describes why.
type Outcome struct {
	Resolved    bool
	Link        string
	LinkType    string
	Institution string
	Meta        notice.Meta
	Validation  Validation
	Skip        *notice.SkipEntry
}

// DocumentFetcher loads and parses an HTML page.
type DocumentFetcher interface {
	Document(ctx context.Context, rawURL string, opts ...httpx.Option) (*goquery.Document, *httpx.Response, error)
}

// Resolver selects and validates destination links.
type Resolver struct {
	fetch     DocumentFetcher
	validator Validator
	scan      *scanner
	opts      Options
	log       logger.Logger
	now       func() time.Time
}

// New creates a Resolver. A nil log discards output.
func New(fetch DocumentFetcher, validator Validator, opts Options, log logger.Logger) *Resolver {
	opts = opts.withDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{
		fetch:     fetch,
		validator: validator,
		scan:      newScanner(opts),
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// Resolve fetches t.DetailURL and resolves it. A failed fetch still yields
// an Outcome; the detail page itself becomes the only candidate.
func (r *Resolver) Resolve(ctx context.Context, t Target) Outcome {
	doc, _, err := r.fetch.Document(ctx, t.DetailURL, httpx.WithTimeout(r.opts.DetailTimeout))
	if err != nil {
		r.log.Debug("detail fetch failed", logger.String("url", t.DetailURL), logger.Error(err))
		return r.ResolveDocument(ctx, t, nil)
	}
	return r.ResolveDocument(ctx, t, doc)
}

// ResolveDocument resolves t against an already parsed detail page. A nil
// doc means the page could not be fetched.
func (r *Resolver) ResolveDocument(ctx context.Context, t Target, doc *goquery.Document) Outcome {
	var detailMeta notice.Meta
	first := Candidate{URL: t.DetailURL, Type: TypeDetailError}
	if doc != nil {
		detailMeta = metaTable(doc)
		if c, ok := r.scan.first(doc, t.DetailURL); ok {
			first = c
		} else {
			first.Type = TypeDetail
		}
	}

	firstVal := r.validator.Validate(ctx, first.URL, t.DetailURL)
	chosen, chosenVal := first, firstVal
	fallbackFrom := ""
	note := ""

	if !r.acceptable(first.URL, firstVal, t.DetailURL) {
		note = NoteBadCandidate
		chosen = Candidate{URL: t.DetailURL, Type: first.Type}
		if doc != nil {
			chosen.Type = TypeDetailFallback
			note = NoteNoValidFallback
			for _, c := range r.scan.fallbacks(doc, t.DetailURL, first.URL) {
				v := r.validator.Validate(ctx, c.URL, t.DetailURL)
				if r.acceptable(c.URL, v, t.DetailURL) {
					chosen, chosenVal = c, v
					fallbackFrom = first.URL
					note = ""
					break
				}
			}
		}
	}

	if chosen.URL == t.DetailURL || strings.HasPrefix(chosen.Type, TypeDetail) {
		return Outcome{
			LinkType:   chosen.Type,
			Validation: firstVal,
			Skip: &notice.SkipEntry{
				TS:          r.now().Format(notice.TimestampLayout),
				Reason:      notice.SkipReasonNoOriginalLink,
				Title:       t.Title,
				Date:        t.Date,
				ListInst:    t.ListInstitution,
				DetailURL:   t.DetailURL,
				PickedLink:  first.URL,
				FinalGoLink: t.DetailURL,
				GoLinkType:  chosen.Type,
				Note:        note,
				Validation:  &firstVal,
			},
		}
	}

	link := chosen.URL
	if chosenVal.RefreshedTo != "" && chosenVal.FinalURL != "" {
		link = chosenVal.FinalURL
	}

	var meta notice.Meta
	meta.Set(MetaListedDate, t.Date)
	meta.Set(MetaDetailURL, t.DetailURL)
	meta.Set(MetaListCategory, t.ListInstitution)
	meta.Merge(detailMeta)
	meta.Set(MetaGoLinkType, chosen.Type)
	meta.Set(MetaDetailBackup, t.DetailURL)
	if fallbackFrom != "" {
		meta.Set(MetaFallbackFrom, fallbackFrom)
	}
	if link != chosen.URL {
		meta.Set(MetaLandingURL, chosen.URL)
	}

	return Outcome{
		Resolved:    true,
		Link:        link,
		LinkType:    chosen.Type,
		Institution: r.institution(t.ListInstitution, detailMeta),
		Meta:        meta,
		Validation:  chosenVal,
	}
}

// acceptable reports a valid link that is neither a placeholder nor the
// detail page itself, both as written and where its redirects ended.
func (r *Resolver) acceptable(u string, v Validation, detailURL string) bool {
	if !v.Valid {
		return false
	}
	for _, c := range []string{u, v.FinalURL} {
		if c == "" {
			continue
		}
		if sameURL(c, detailURL) || isPlaceholderURL(c, r.opts.Placeholders) {
			return false
		}
	}
	return true
}

func sameURL(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}

// institution prefers the listing's institution, then the detail meta
// table, then the catch-all.
func (r *Resolver) institution(listInst string, detailMeta notice.Meta) string {
	if !notice.IsPlaceholderValue(listInst) && listInst != notice.OtherInstitution {
		return listInst
	}
	for _, label := range r.opts.InstitutionLabels {
		if v := detailMeta.Get(label); !notice.IsPlaceholderValue(v) {
			return v
		}
	}
	return notice.OtherInstitution
}

// IsPlaceholder reports whether u matches the configured placeholder rules.
func (r *Resolver) IsPlaceholder(u string) bool {
	return isPlaceholderURL(u, r.opts.Placeholders)
}
