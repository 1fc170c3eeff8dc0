package board

import (
	"context"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources"
	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

// Scraper lists one table board.
type Scraper struct {
	cfg    Config
	client sources.Client
	log    logger.Logger
}

// NewScraper creates a Scraper. Name, Tag, BaseURL, PagePath and
// RowSelector are required.
func NewScraper(cfg Config, client sources.Client, log logger.Logger) (*Scraper, error) {
	if cfg.Name == "" || cfg.Tag == "" || cfg.BaseURL == "" || cfg.PagePath == "" || cfg.RowSelector == "" {
		return nil, errors.New("board: name, tag, base url, page path and row selector are required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scraper{cfg: cfg, client: client, log: log.With(logger.String("source", cfg.Tag))}, nil
}

// Name returns the configured source name.
func (s *Scraper) Name() string { return s.cfg.Name }

// Fetch reads up to maxPages list pages.
func (s *Scraper) Fetch(ctx context.Context, maxPages int) ([]notice.RawRecord, error) {
	seen := sources.Seen{}
	return sources.Paginate(ctx, sources.Pages(maxPages, s.cfg.Pages), func(ctx context.Context, page int) ([]notice.RawRecord, error) {
		return s.page(ctx, page, seen)
	}, s.log)
}

func (s *Scraper) page(ctx context.Context, page int, seen sources.Seen) ([]notice.RawRecord, error) {
	pageURL := s.cfg.BaseURL + fmt.Sprintf(s.cfg.PagePath, page)
	doc, _, err := s.client.Document(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("%s page %d: %w", s.cfg.Name, page, err)
	}

	var out []notice.RawRecord
	doc.Find(s.cfg.RowSelector).Each(func(_ int, tr *goquery.Selection) {
		a := sources.FirstOf(tr, s.cfg.LinkSelectors...)
		title := normalize.SelectionText(a)
		href, _ := a.Attr("href")
		link := sources.AbsURL(pageURL, href)
		if title == "" || link == "" || !seen.Add(link) {
			return
		}
		date := normalize.SelectionText(sources.FirstOf(tr, s.cfg.DateSelectors...))
		rec := notice.NewRawRecord(s.cfg.Tag,
			"title", title,
			"link", link,
			"date", date,
			notice.MetaTitle, title,
		)
		if d, ok := normalize.ParseDate(date); ok {
			rec.Fields.Set(notice.MetaPostedDate, d)
		}
		if s.cfg.Ministry != "" {
			rec.Fields.Set(notice.MetaMinistry, s.cfg.Ministry)
		}
		if s.cfg.Agency != "" {
			rec.Fields.Set(notice.MetaAgency, s.cfg.Agency)
		}
		out = append(out, rec)
	})
	return out, nil
}
