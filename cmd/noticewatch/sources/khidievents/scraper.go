// Package khidievents provides the source adapter for the KHIDI education
// and event board. Its rows only point at KHIDI detail pages, so records
// are resolved to their original destination before they are kept.
package khidievents

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources"
	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

const (
	DefaultBaseURL = "https://www.khidi.or.kr"
	DefaultRows    = 20
	Tag            = "KHIDI_EDU"

	listPath = "/board"
	menuID   = "MENU01491"
	siteID   = "SITE00039"
)

// Config controls the events adapter.
type Config struct {
	BaseURL string
	Rows    int
}

// Scraper lists the event board.
type Scraper struct {
	cfg    Config
	client sources.Client
	log    logger.Logger
}

// NewScraper creates a Scraper.
func NewScraper(cfg Config, client sources.Client, log logger.Logger) *Scraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Rows <= 0 {
		cfg.Rows = DefaultRows
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scraper{cfg: cfg, client: client, log: log.With(logger.String("source", Tag))}
}

// Name returns the source name.
func (s *Scraper) Name() string { return "khidi_events" }

// RequiresResolution reports that links are detail pages, not destinations.
func (s *Scraper) RequiresResolution() bool { return true }

// Fetch reads up to maxPages board pages.
func (s *Scraper) Fetch(ctx context.Context, maxPages int) ([]notice.RawRecord, error) {
	seen := sources.Seen{}
	return sources.Paginate(ctx, sources.Pages(maxPages, 0), func(ctx context.Context, page int) ([]notice.RawRecord, error) {
		return s.page(ctx, page, seen)
	}, s.log)
}

func (s *Scraper) page(ctx context.Context, page int, seen sources.Seen) ([]notice.RawRecord, error) {
	q := url.Values{
		"menuId":  {menuID},
		"siteId":  {siteID},
		"pageNum": {strconv.Itoa(page)},
		"rowCnt":  {strconv.Itoa(s.cfg.Rows)},
	}
	pageURL := s.cfg.BaseURL + listPath + "?" + q.Encode()
	doc, _, err := s.client.Document(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("khidi events page %d: %w", page, err)
	}

	var out []notice.RawRecord
	doc.Find("table tbody tr").Each(func(_ int, tr *goquery.Selection) {
		a := tr.Find("td a[href*='/board/view']").First()
		title := normalize.SelectionText(a)
		href, _ := a.Attr("href")
		detail := sources.AbsURL(pageURL, href)
		if title == "" || detail == "" || !seen.Add(detail) {
			return
		}
		tds := tr.Find("td")
		var institution string
		if v := normalize.SelectionText(tds.Eq(1)); !notice.IsPlaceholderValue(v) {
			institution = v
		}
		out = append(out, notice.NewRawRecord(Tag,
			"title", title,
			"link", detail,
			"date", normalize.SelectionText(tds.Eq(3)),
			"institution", institution,
		))
	})
	return out, nil
}
