package iris

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources"
	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/httpx"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

var (
	callParens   = regexp.MustCompile(`\(([^)]*)\)`)
	postedPrefix = regexp.MustCompile(`^\s*공고일자\s*:?\s*`)
)

var detailKeys = []string{
	notice.MetaMinistry,
	notice.MetaAgency,
	notice.MetaAnnouncementID,
	notice.MetaTitle,
	notice.MetaPostedDate,
	notice.MetaApplyPeriod,
}

// Scraper lists IRIS announcements and enriches them from their detail pages.
type Scraper struct {
	cfg    Config
	client sources.Client
	log    logger.Logger
}

// NewScraper creates a Scraper.
func NewScraper(cfg Config, client sources.Client, log logger.Logger) *Scraper {
	cfg.setDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Scraper{cfg: cfg, client: client, log: log.With(logger.String("source", Tag))}
}

// Name returns the source name.
func (s *Scraper) Name() string { return "iris" }

// Fetch walks up to maxPages listing pages of every configured program.
func (s *Scraper) Fetch(ctx context.Context, maxPages int) ([]notice.RawRecord, error) {
	seen := sources.Seen{}
	var out []notice.RawRecord
	var firstErr error
	for _, prg := range s.cfg.Programs {
		recs, err := sources.Paginate(ctx, sources.Pages(maxPages, 0), func(ctx context.Context, page int) ([]notice.RawRecord, error) {
			return s.listPage(ctx, prg, page, seen)
		}, s.log.With(logger.String("program", prg)))
		if err != nil {
			s.log.Warn("Program listing failed", logger.String("program", prg), logger.Error(err))
			firstErr = cmp.Or(firstErr, err)
			continue
		}
		out = append(out, recs...)
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (s *Scraper) listURL(prg string, page int) string {
	q := url.Values{"pageIndex": {strconv.Itoa(page)}, "ancmPrg": {prg}}
	return s.cfg.BaseURL + listPath + "?" + q.Encode()
}

func (s *Scraper) viewURL(r ref) string {
	q := url.Values{"ancmId": {r.id}, "ancmPrg": {r.program}, "bsnsAncmSn": {r.serial}}
	return s.cfg.BaseURL + viewPath + "?" + q.Encode()
}

func (s *Scraper) listPage(ctx context.Context, prg string, page int, seen sources.Seen) ([]notice.RawRecord, error) {
	doc, _, err := s.client.Document(ctx, s.listURL(prg, page))
	if err != nil {
		return nil, fmt.Errorf("iris list %s page %d: %w", prg, page, err)
	}
	items := doc.Find("ul.dbody > li")
	if items.Length() == 0 {
		items = doc.Find("ul.dbody li")
	}

	var out []notice.RawRecord
	items.Each(func(_ int, li *goquery.Selection) {
		a := sources.FirstOf(li, "strong.title a", "a")
		title := normalize.SelectionText(a)
		if title == "" {
			return
		}
		onclick, _ := a.Attr("onclick")
		href, _ := a.Attr("href")
		r, ok := parseRef(onclick, href)
		if !ok {
			return
		}
		r.program = cmp.Or(r.program, prg)
		link := s.viewURL(r)
		if !seen.Add(link) {
			return
		}
		date := postedPrefix.ReplaceAllString(sources.Text(li, "span.ancmDe"), "")
		out = append(out, notice.NewRawRecord(Tag,
			"title", title,
			"institution", sources.Text(li, "span.inst_title"),
			"date", date,
			"link", link,
			"ancm_id", r.id,
			"bsnsAncmSn", r.serial,
			"ancmPrg", r.program,
		))
	})
	return out, nil
}

// Enrich fetches the detail title area of n. When the GET page carries no
// fields the form POST variant of the same page is tried.
func (s *Scraper) Enrich(ctx context.Context, n notice.Notice) (notice.Meta, string, error) {
	u, err := url.Parse(n.Link)
	if err != nil {
		return notice.Meta{}, "", fmt.Errorf("iris enrich %q: %w", n.Link, err)
	}
	q := u.Query()
	id := q.Get("ancmId")
	if id == "" {
		return notice.Meta{}, "", fmt.Errorf("iris enrich %q: %w", n.Link, notice.ErrUnexpectedMarkup)
	}
	prg := cmp.Or(q.Get("ancmPrg"), ProgramOpen)
	serial := cmp.Or(q.Get("bsnsAncmSn"), "1")
	referer := httpx.WithReferer(s.listURL(prg, 1))

	var meta notice.Meta
	doc, _, getErr := s.client.Document(ctx, n.Link, referer)
	if getErr == nil {
		meta = detailMeta(doc)
	}
	if meta.Len() == 0 {
		form := url.Values{"ancmId": {id}, "bsnsAncmSn": {serial}}
		pdoc, _, postErr := s.client.PostDocument(ctx, s.cfg.BaseURL+viewPath, form, referer)
		switch {
		case postErr == nil:
			meta = detailMeta(pdoc)
			if doc == nil {
				doc = pdoc
			}
		case getErr != nil:
			return notice.Meta{}, "", fmt.Errorf("iris detail %s: %w", id, errors.Join(getErr, postErr))
		}
	}

	var extra string
	if s.cfg.IncludeExtra && doc != nil {
		extra = extraText(doc)
	}
	return meta, extra, nil
}

func detailMeta(doc *goquery.Document) notice.Meta {
	var m notice.Meta
	doc.Find("div.title_area ul.list_dot li.write").Each(func(_ int, li *goquery.Selection) {
		label := sources.Text(li, "strong")
		value := sources.Text(li, "span")
		if value == "" {
			return
		}
		for _, k := range detailKeys {
			if strings.Contains(label, k) {
				m.Set(k, value)
				return
			}
		}
	})
	return m
}

func extraText(doc *goquery.Document) string {
	var parts []string
	if body := normalize.SelectionText(doc.Find(".tb_contents .se-contents")); body != "" {
		parts = append(parts, body)
	}
	doc.Find(".add_file_list .add_file li a .text").Each(func(_ int, f *goquery.Selection) {
		if t := normalize.SelectionText(f); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}

type ref struct {
	id      string
	serial  string
	program string
}

// parseRef reads the announcement id, serial and program from a javascript
// call in onclick or href, falling back to the href query string.
func parseRef(onclick, href string) (ref, bool) {
	for _, src := range []string{onclick, href} {
		m := callParens.FindStringSubmatch(src)
		if m == nil {
			continue
		}
		var r ref
		for _, tok := range strings.Split(m[1], ",") {
			tok = strings.Trim(strings.TrimSpace(tok), `'"`)
			switch {
			case isDigits(tok) && r.id == "":
				r.id = tok
			case isDigits(tok) && r.serial == "":
				r.serial = tok
			case strings.HasPrefix(tok, "ancm") && r.program == "":
				r.program = tok
			}
		}
		if r.id != "" {
			r.serial = cmp.Or(r.serial, "1")
			return r, true
		}
	}
	if u, err := url.Parse(href); err == nil {
		q := u.Query()
		if id := q.Get("ancmId"); id != "" {
			return ref{id: id, serial: cmp.Or(q.Get("bsnsAncmSn"), "1"), program: q.Get("ancmPrg")}, true
		}
	}
	return ref{}, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
