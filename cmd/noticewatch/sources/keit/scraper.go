package keit

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources"
	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

var (
	detailCall = regexp.MustCompile(`f_detail\(\s*['"]([^'"]+)['"]\s*,\s*['"](\d{4})['"]`)
	irisID     = regexp.MustCompile(`^I(\d+)$`)
)

// Scraper lists KEIT task announcements.
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
func (s *Scraper) Name() string { return "keit" }

// Fetch reads the announcement list.
func (s *Scraper) Fetch(ctx context.Context, maxPages int) ([]notice.RawRecord, error) {
	seen := sources.Seen{}
	return sources.Paginate(ctx, sources.Pages(maxPages, s.cfg.Pages), func(ctx context.Context, page int) ([]notice.RawRecord, error) {
		return s.page(ctx, page, seen)
	}, s.log)
}

func (s *Scraper) sromeURL(id, year string) string {
	q := url.Values{"ancmId": {id}, "bsnsYy": {year}, "prgmId": {s.cfg.ProgramID}}
	return s.cfg.BaseURL + viewPath + "?" + q.Encode()
}

// irisURL maps an "I14917" style id onto its IRIS announcement, or "" for
// ids IRIS does not carry.
func (s *Scraper) irisURL(id, program string) string {
	m := irisID.FindStringSubmatch(id)
	if m == nil {
		return ""
	}
	q := url.Values{"ancmId": {"0" + m[1]}, "ancmPrg": {program}}
	return s.cfg.IRISBaseURL + irisViewPath + "?" + q.Encode()
}

func (s *Scraper) page(ctx context.Context, page int, seen sources.Seen) ([]notice.RawRecord, error) {
	q := url.Values{"prgmId": {s.cfg.ProgramID}, "pageIndex": {strconv.Itoa(page)}}
	doc, _, err := s.client.Document(ctx, s.cfg.BaseURL+listPath+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("keit list page %d: %w", page, err)
	}

	var out []notice.RawRecord
	doc.Find(".table_list .table_box").Each(func(_ int, box *goquery.Selection) {
		detail := box.Find(".table_box_detail").First()
		title := sources.Text(detail, ".subject .title")
		if title == "" {
			return
		}

		var id, year string
		detail.Find(".subject a, .subject [onclick]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			onclick, _ := a.Attr("onclick")
			href, _ := a.Attr("href")
			if m := detailCall.FindStringSubmatch(onclick + " " + href); m != nil {
				id, year = m[1], m[2]
				return false
			}
			return true
		})

		info := map[string]string{}
		detail.Find(".info p").Each(func(_ int, p *goquery.Selection) {
			label := strings.TrimSuffix(sources.Text(p, ".label"), ":")
			if v := sources.Text(p, ".value"); label != "" && v != "" {
				info[strings.TrimSpace(label)] = v
			}
		})
		posted, _ := normalize.ParseDate(info["등록일"])

		var srome, irisIng, irisEnd string
		if id != "" {
			srome = s.sromeURL(id, year)
			irisIng = s.irisURL(id, "ancmIng")
			irisEnd = s.irisURL(id, "ancmEnd")
		}
		link := irisIng
		if link == "" {
			link = srome
		}
		if !seen.Add(id + "|" + title) {
			return
		}

		out = append(out, notice.NewRawRecord(Tag,
			"title", title,
			"link", link,
			"date", posted,
			"공고ID", id,
			"공고연도", year,
			notice.MetaTitle, title,
			notice.MetaPostedDate, posted,
			notice.MetaApplyPeriod, info["접수기간"],
			notice.MetaMinistry, ministry,
			notice.MetaAgency, agency,
			"backup_links.srome", srome,
			"backup_links.iris_ing", irisIng,
			"backup_links.iris_end", irisEnd,
		))
	})
	return out, nil
}
