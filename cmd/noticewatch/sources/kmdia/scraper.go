// Package kmdia provides the source adapter for open KMDIA
// (한국의료기기산업협회) GMP training courses.
package kmdia

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources"
	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

const (
	DefaultBaseURL = "https://edu.kmdia.or.kr"
	Tag            = "KMDIA_EDU"
	Institution    = "한국의료기기산업협회"

	coursePath = "/GMP/default.asp"
	detailPath = "/GMP/Document/Course_Request/Course_Introduce_10V.asp"
)

var viewCall = regexp.MustCompile(`fView\('(\d+)','(\d+)','(\d+)','(\d+)'\)`)

// Config controls the KMDIA adapter.
type Config struct {
	BaseURL string
}

// Scraper reads the open course carousel of the KMDIA education site.
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
	if log == nil {
		log = logger.NewNop()
	}
	return &Scraper{cfg: cfg, client: client, log: log.With(logger.String("source", Tag))}
}

// Name returns the source name.
func (s *Scraper) Name() string { return "kmdia" }

type course struct {
	application string
	location    string
	period      string
	hours       string
	status      []string
}

// Fetch reads the course page. The carousel is not paginated, so maxPages
// is ignored.
func (s *Scraper) Fetch(ctx context.Context, _ int) ([]notice.RawRecord, error) {
	pageURL := s.cfg.BaseURL + coursePath
	doc, _, err := s.client.Document(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("kmdia courses: %w", err)
	}

	var out []notice.RawRecord
	doc.Find("div#tab2 ul.swiper-wrapper.comm_swiper li.swiper-slide").Each(func(_ int, li *goquery.Selection) {
		name := sources.Text(li, ".swiper_title")
		if name == "" {
			return
		}
		title := name
		if category := sources.Text(li, ".swiper_txt01"); category != "" {
			title = "[" + category + "] " + name
		}

		c := readInfo(li)
		start, deadline := c.application, ""
		if from, to, ok := strings.Cut(c.application, "~"); ok {
			start, deadline = strings.TrimSpace(from), strings.TrimSpace(to)
		}
		if d, ok := normalize.ParseDate(deadline); ok {
			deadline = d
		}

		link := pageURL
		if href, ok := li.Find("a[href^='javascript:fView']").First().Attr("href"); ok {
			if m := viewCall.FindStringSubmatch(href); m != nil {
				q := url.Values{"dnSn": {m[1]}, "dvYear": {m[2]}, "dnGrade": {m[3]}, "dnDSeq": {m[4]}}
				link = s.cfg.BaseURL + detailPath + "?" + q.Encode()
			}
		}

		out = append(out, notice.NewRawRecord(Tag,
			"title", title,
			"date", start,
			"deadline", deadline,
			"link", link,
			"institution", Institution,
			"description", sources.Text(li, ".swiper_txt02"),
			"application_period", c.application,
			"location", c.location,
			"period", c.period,
			"time", c.hours,
			"status", strings.Join(c.status, ", "),
		))
	})
	return out, nil
}

// readInfo reads the labelled ".lec_info" entries of a slide. Entries
// without a label are status badges.
func readInfo(li *goquery.Selection) course {
	var c course
	li.Find(".lec_info li").Each(func(_ int, item *goquery.Selection) {
		text := normalize.SelectionText(item)
		span := item.Find("span").First()
		if span.Length() == 0 {
			if text != "" {
				c.status = append(c.status, text)
			}
			return
		}
		label := normalize.SelectionText(span)
		value := strings.TrimSpace(strings.Replace(text, label, "", 1))
		switch {
		case strings.Contains(label, "수강신청"):
			c.application = value
		case strings.Contains(label, "교육장소"):
			c.location = value
		case strings.Contains(label, "교육기간"):
			c.period = value
		case strings.Contains(label, "교육시간"):
			c.hours = value
		}
	})
	return c
}
