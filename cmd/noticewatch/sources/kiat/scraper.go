package kiat

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources"
	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/httpx"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

var (
	contentsView = regexp.MustCompile(`contentsView\(\s*['"]?([^'")\s]+)`)
	anyDate      = regexp.MustCompile(`\d{4}\s*[./-]\s*\d{1,2}\s*[./-]\s*\d{1,2}`)
)

// Scraper reads the KIAT board through its AJAX list endpoint.
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
func (s *Scraper) Name() string { return "kiat" }

func (s *Scraper) listPageURL() string {
	q := url.Values{"board_id": {s.cfg.BoardID}, "MenuId": {s.cfg.MenuID}}
	return s.cfg.BaseURL + listPagePath + "?" + q.Encode()
}

func (s *Scraper) viewURL(id string) string {
	q := url.Values{"board_id": {s.cfg.BoardID}, "MenuId": {s.cfg.MenuID}, "contents_id": {id}}
	return s.cfg.BaseURL + viewPagePath + "?" + q.Encode()
}

func (s *Scraper) searchURL(title string) string {
	q := url.Values{
		"board_id":  {s.cfg.BoardID},
		"MenuId":    {s.cfg.MenuID},
		"srchGubun": {"TITLE"},
		"srchKwd":   {title},
	}
	return s.cfg.BaseURL + listPagePath + "?" + q.Encode()
}

// Fetch primes the session with the list page, then posts the AJAX list
// request for each page.
func (s *Scraper) Fetch(ctx context.Context, maxPages int) ([]notice.RawRecord, error) {
	if _, err := s.client.Get(ctx, s.listPageURL()); err != nil {
		s.log.Warn("Priming request failed", logger.Error(err))
	}
	seen := sources.Seen{}
	return sources.Paginate(ctx, sources.Pages(maxPages, 0), func(ctx context.Context, page int) ([]notice.RawRecord, error) {
		return s.page(ctx, page, seen)
	}, s.log)
}

func (s *Scraper) page(ctx context.Context, page int, seen sources.Seen) ([]notice.RawRecord, error) {
	form := url.Values{
		"board_id":  {s.cfg.BoardID},
		"MenuId":    {s.cfg.MenuID},
		"pageIndex": {strconv.Itoa(page)},
		"pageSize":  {strconv.Itoa(s.cfg.PageSize)},
		"srchGubun": {""},
		"srchKwd":   {""},
	}
	doc, _, err := s.client.PostDocument(ctx, s.cfg.BaseURL+listAjaxPath, form,
		httpx.WithReferer(s.listPageURL()),
		httpx.WithHeader("Origin", s.cfg.BaseURL),
		httpx.WithHeader("X-Requested-With", "XMLHttpRequest"),
		httpx.WithHeader("ajax", "true"),
	)
	if err != nil {
		return nil, fmt.Errorf("kiat list page %d: %w", page, err)
	}

	var out []notice.RawRecord
	doc.Find("table.list tbody tr").Each(func(_ int, tr *goquery.Selection) {
		a := sources.FirstOf(tr, ".td_title a", "a")
		title := normalize.SelectionText(a)
		if title == "" {
			return
		}
		href, _ := a.Attr("href")
		onclick, _ := a.Attr("onclick")
		var id string
		if m := contentsView.FindStringSubmatch(href + " " + onclick); m != nil {
			id = m[1]
		}

		var link string
		switch {
		case id != "":
			link = s.viewURL(id)
		case sources.AbsURL(s.cfg.BaseURL, href) != "":
			link = sources.AbsURL(s.cfg.BaseURL, href)
		default:
			link = s.listPageURL()
		}
		if !seen.Add(link) {
			return
		}

		posted, _ := normalize.ParseDate(sources.Text(tr, "td.td_reg_date, td.td_write_date"))
		start, end, period := applyPeriod(sources.Text(tr, "td.td_app_term, td.td_app_period"))

		rec := notice.NewRawRecord(Tag,
			"title", title,
			"link", link,
			"date", posted,
			"contents_id", id,
			notice.MetaTitle, title,
			notice.MetaPostedDate, posted,
			notice.MetaApplyPeriod, period,
			"접수시작", start,
			"접수종료", end,
			notice.MetaMinistry, ministry,
			notice.MetaAgency, agency,
			"backup_links.view", s.viewURL(id),
			"backup_links.list", s.listPageURL(),
			"backup_links.search", s.searchURL(title),
		)
		if id == "" {
			rec.Fields.Delete("backup_links.view")
		}
		out = append(out, rec)
	})
	return out, nil
}

// applyPeriod splits an application period cell into its start and end
// dates. period is "start ~ end" when both parse, otherwise the raw text.
func applyPeriod(raw string) (start, end, period string) {
	dates := anyDate.FindAllString(raw, 2)
	if len(dates) > 0 {
		start, _ = normalize.ParseDate(dates[0])
	}
	if len(dates) > 1 {
		end, _ = normalize.ParseDate(dates[1])
	}
	if start != "" && end != "" {
		return start, end, start + " ~ " + end
	}
	return start, end, raw
}
