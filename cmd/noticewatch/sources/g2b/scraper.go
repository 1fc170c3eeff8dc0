package g2b

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources"
	"github.com/noticewatch/noticewatch/engine/aggregate"
	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/httpx"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

const (
	closeLayout   = "2006-01-02 15:04"
	detailTimeout = 20 * time.Second
)

var (
	postedLabel = regexp.MustCompile(`게시일시|공고게시일시|공고일시|입찰공고일시|등록일|등록일시`)
	postedText  = regexp.MustCompile(`(?:게시일시|공고게시일시|공고일시|입찰공고일시|등록일|등록일시)\s*[:：]?\s*([0-9]{4}[-./][0-9]{2}[-./][0-9]{2})(\s*[0-9]{2}:[0-9]{2})?`)

	looseLayouts = []string{
		"2006-01-02 15:04", "2006.01.02 15:04", "2006/01/02 15:04",
		"2006-01-02", "2006.01.02", "2006/01/02",
	}
)

// Scraper collects recent service bid notices whose deadline has not passed.
type Scraper struct {
	cfg      Config
	keywords []string
	client   sources.Client
	log      logger.Logger
	now      func() time.Time
}

// NewScraper creates a Scraper. A missing API key is reported by Fetch.
func NewScraper(cfg Config, client sources.Client, log logger.Logger) *Scraper {
	cfg.setDefaults()
	if cfg.Location == nil {
		cfg.Location = aggregate.DefaultLocation()
	}
	if log == nil {
		log = logger.NewNop()
	}
	var kws []string
	for _, k := range cfg.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			kws = append(kws, k)
		}
	}
	return &Scraper{
		cfg:      cfg,
		keywords: kws,
		client:   client,
		log:      log.With(logger.String("source", Tag)),
		now:      time.Now,
	}
}

// Name returns the source name.
func (s *Scraper) Name() string { return "g2b" }

type candidate struct {
	item        item
	title       string
	institution string
	link        string
	closes      time.Time
	posted      time.Time
}

// Fetch returns notices posted within the last DaysBack days. Modes are
// tried in order until one yields results.
func (s *Scraper) Fetch(ctx context.Context, maxPages int) ([]notice.RawRecord, error) {
	if s.cfg.APIKey == "" {
		return nil, notice.NewConfigError("g2b", "G2B_API_KEY", notice.ErrMissingCredential)
	}
	loc := s.cfg.Location
	now := s.now().In(loc)
	y, m, d := now.Date()
	start := time.Date(y, m, d-(s.cfg.DaysBack-1), 0, 0, 0, 0, loc)
	scan := s.cfg.ScanPages
	if scan <= 0 {
		scan = max(20, maxPages*20)
	}

	var final []candidate
	var lastErr error
	for _, mode := range s.cfg.Prefer.order() {
		cands, err := s.collect(ctx, mode, start, now, scan)
		if err != nil {
			s.log.Warn("Listing failed", logger.String("mode", string(mode)), logger.Error(err))
			lastErr = err
			continue
		}
		s.fixPosted(ctx, cands)
		for _, c := range cands {
			if c.posted.IsZero() || c.posted.Before(start) || c.posted.After(now) || c.closes.Before(now) {
				continue
			}
			final = append(final, c)
		}
		s.log.Debug("Mode scanned",
			logger.String("mode", string(mode)),
			logger.Int("candidates", len(cands)),
			logger.Int("kept", len(final)),
		)
		if len(final) > 0 {
			break
		}
	}
	if len(final) == 0 && lastErr != nil {
		return nil, lastErr
	}

	slices.SortStableFunc(final, func(a, b candidate) int { return b.posted.Compare(a.posted) })
	out := make([]notice.RawRecord, 0, len(final))
	for _, c := range final {
		rec := notice.NewRawRecord(Tag,
			"title", c.title,
			"date", c.posted.Format("2006-01-02"),
			"end_date", c.closes.Format(closeLayout),
			"link", c.link,
			"institution", c.institution,
			"notice_posted_at", c.posted.Format(closeLayout),
		)
		c.item.meta().Each(func(k, v string) { rec.Fields.SetDefault(k, v) })
		out = append(out, rec)
	}
	return out, nil
}

// collect reads one mode newest-first: the API lists oldest first, so
// paging starts at the last page and walks back at most scan pages.
func (s *Scraper) collect(ctx context.Context, mode Mode, start, now time.Time, scan int) ([]candidate, error) {
	first, total, err := s.listPage(ctx, mode, start, now, 1)
	if err != nil {
		return nil, err
	}
	last := max(1, (total+s.cfg.Rows-1)/s.cfg.Rows)
	lo := max(1, last-scan+1)

	seen := sources.Seen{}
	var out []candidate
	for page := last; page >= lo; page-- {
		if ctx.Err() != nil {
			break
		}
		items := first
		if page != 1 {
			if items, _, err = s.listPage(ctx, mode, start, now, page); err != nil {
				s.log.Warn("Page failed", logger.String("mode", string(mode)), logger.Int("page", page), logger.Error(err))
				continue
			}
		}
		for _, it := range items {
			if c, ok := s.candidate(it, now, seen); ok {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (s *Scraper) candidate(it item, now time.Time, seen sources.Seen) (candidate, bool) {
	if !strings.Contains(it.get("bsnsDivNm"), "용역") {
		return candidate{}, false
	}
	title := it.get("bidNtceNm")
	if len(s.keywords) > 0 && !slices.ContainsFunc(s.keywords, func(k string) bool { return strings.Contains(title, k) }) {
		return candidate{}, false
	}
	d, t := it.get("bidClseDate"), it.get("bidClseTm")
	if d == "" || t == "" {
		return candidate{}, false
	}
	closes, err := time.ParseInLocation(closeLayout, d+" "+t, s.cfg.Location)
	if err != nil || closes.Before(now) {
		return candidate{}, false
	}
	if no := it.get("bidNtceNo"); no != "" && !seen.Add(no+"|"+it.get("bidNtceOrd")) {
		return candidate{}, false
	}

	c := candidate{
		item:        it,
		title:       title,
		institution: it.get("ntceInsttNm"),
		link:        detailURL(it),
		closes:      closes,
	}
	if nd := it.get("bidNtceDate"); nd != "" {
		c.posted, _ = parseLoose(nd+" "+it.get("bidNtceBgn"), s.cfg.Location)
	}
	return c, true
}

// fixPosted scrapes the posting time of candidates the API left without
// one, up to MaxDetails detail pages.
func (s *Scraper) fixPosted(ctx context.Context, cands []candidate) {
	fetched := 0
	for i := range cands {
		c := &cands[i]
		if !c.posted.IsZero() || c.link == "" || fetched >= s.cfg.MaxDetails {
			continue
		}
		if t, ok := s.scrapePosted(ctx, c.link); ok {
			c.posted = t
		}
		fetched++
	}
}

func (s *Scraper) scrapePosted(ctx context.Context, link string) (time.Time, bool) {
	doc, _, err := s.client.Document(ctx, link, httpx.WithTimeout(detailTimeout))
	if err != nil {
		s.log.Debug("Detail fetch failed", logger.String("url", link), logger.Error(err))
		return time.Time{}, false
	}

	var found time.Time
	doc.Find("*").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if !postedLabel.MatchString(ownText(el)) {
			return true
		}
		for _, next := range []*goquery.Selection{el.Next(), el.Parent().Next()} {
			if t, ok := parseLoose(normalize.SelectionText(next), s.cfg.Location); ok {
				found = t
				return false
			}
		}
		return true
	})
	if !found.IsZero() {
		return found, true
	}
	if m := postedText.FindStringSubmatch(normalize.SelectionText(doc.Selection)); m != nil {
		return parseLoose(m[1]+m[2], s.cfg.Location)
	}
	return time.Time{}, false
}

func detailURL(it item) string {
	if u := it.get("bidNtceUrl"); u != "" {
		return u
	}
	no := it.get("bidNtceNo")
	if no == "" {
		return ""
	}
	ord := it.get("bidNtceOrd")
	if ord == "" {
		ord = "00"
	}
	return fmt.Sprintf(DetailURLTemplate, no, ord)
}

func ownText(el *goquery.Selection) string {
	return el.Contents().FilterFunction(func(_ int, c *goquery.Selection) bool {
		return goquery.NodeName(c) == "#text"
	}).Text()
}

// parseLoose reads the leading "date[ time]" of s in loc.
func parseLoose(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 16 {
		s = s[:16]
	}
	for _, layout := range looseLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
