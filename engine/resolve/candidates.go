package resolve

import (
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cloudflare/ahocorasick"
	"golang.org/x/net/publicsuffix"

	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/engine/notice"
)

// Link type prefixes.
const (
	TypeMeta           = "meta"
	TypeBody           = "body"
	TypeAttachment     = "attachment"
	TypeDetail         = "detail"
	TypeDetailError    = "detail_error"
	TypeDetailFallback = "detail_fallback"
	TypeFallback       = "fallback"
)

// Candidate is a possible destination link found on a detail page.
type Candidate struct {
	URL   string
	Type  string
	Text  string
	Score int
}

type scanner struct {
	opts    Options
	matcher *ahocorasick.Matcher
	weights []int
}

func newScanner(opts Options) *scanner {
	s := &scanner{opts: opts}
	words := make([]string, 0, len(opts.Anchors))
	for _, a := range opts.Anchors {
		if a.Keyword != "" {
			words = append(words, a.Keyword)
			s.weights = append(s.weights, a.Weight)
		}
	}
	if len(words) > 0 {
		s.matcher = ahocorasick.NewStringMatcher(words)
	}
	return s
}

// anchorScore sums the weight of every keyword present in text, plus the
// external bonus when href points at another registrable domain.
func (s *scanner) anchorScore(text, href, detailURL string) int {
	score := 0
	if s.matcher != nil {
		seen := make(map[int]bool)
		for _, i := range s.matcher.Match([]byte(text)) {
			if !seen[i] {
				seen[i] = true
				score += s.weights[i]
			}
		}
	}
	if isExternal(href, detailURL) {
		score += s.opts.ExternalBonus
	}
	return score
}

// metaTable collects th/td rows of every table in document order.
func metaTable(doc *goquery.Document) notice.Meta {
	var meta notice.Meta
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th").First()
		td := row.Find("td").First()
		label := normalize.CleanText(th.Text())
		if label == "" || td.Length() == 0 {
			return
		}
		meta.Set(label, normalize.SelectionText(td))
	})
	return meta
}

// first picks the primary candidate: meta-table link, scored body anchor,
// attachment, in that order. ok is false when the page offers none.
func (s *scanner) first(doc *goquery.Document, detailURL string) (Candidate, bool) {
	var found Candidate
	ok := false
	doc.Find("table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		label := normalize.CleanText(row.Find("th").First().Text())
		td := row.Find("td").First()
		if label == "" || td.Length() == 0 || !containsAny(label, s.opts.MetaLabels) {
			return true
		}
		href, exists := td.Find("a[href]").First().Attr("href")
		if !exists {
			return true
		}
		if u := absURL(href, detailURL); u != "" {
			found = Candidate{URL: u, Type: TypeMeta + ":" + label}
			ok = true
			return false
		}
		return true
	})
	if ok {
		return found, true
	}

	if body := s.bodyCandidates(doc, detailURL, ""); len(body) > 0 {
		c := body[0]
		c.Type = TypeBody + ":" + truncate(c.Text, 30)
		return c, true
	}

	doc.Find(s.opts.AttachmentSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		u := absURL(href, detailURL)
		if u != "" && s.opts.AttachmentPattern.MatchString(u) {
			found = Candidate{URL: u, Type: TypeAttachment, Text: normalize.SelectionText(a)}
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// bodyCandidates returns positively scored anchors of the first body
// container, best first, ties in document order.
func (s *scanner) bodyCandidates(doc *goquery.Document, detailURL, exclude string) []Candidate {
	body := doc.Find(s.opts.BodySelector).First()
	if body.Length() == 0 {
		return nil
	}
	var out []Candidate
	body.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u := absURL(href, detailURL)
		if u == "" || u == exclude {
			return
		}
		text := normalize.SelectionText(a)
		if sc := s.anchorScore(text, u, detailURL); sc > 0 {
			out = append(out, Candidate{URL: u, Text: text, Score: sc})
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// fallbacks lists alternatives to a failed candidate: body anchors and every
// attachment-area anchor, deduplicated and capped at MaxFallback.
func (s *scanner) fallbacks(doc *goquery.Document, detailURL, failed string) []Candidate {
	cands := s.bodyCandidates(doc, detailURL, failed)
	doc.Find(s.opts.AttachmentSelector).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u := absURL(href, detailURL)
		if u == "" || u == failed {
			return
		}
		cands = append(cands, Candidate{URL: u, Text: normalize.SelectionText(a), Score: s.opts.FallbackScore})
	})
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })

	seen := make(map[string]bool, len(cands))
	out := make([]Candidate, 0, s.opts.MaxFallback)
	for _, c := range cands {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		c.Type = TypeFallback + ":" + truncate(c.Text, 30)
		out = append(out, c)
		if len(out) == s.opts.MaxFallback {
			break
		}
	}
	return out
}

// absURL resolves href against base, returning "" for placeholder hrefs.
func absURL(href, base string) string {
	if notice.IsPlaceholderLink(href) {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	u, err := b.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return u.String()
}

func registrableDomain(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

func isExternal(href, detailURL string) bool {
	u, err := url.Parse(href)
	if err != nil || u.Hostname() == "" {
		return false
	}
	d, err := url.Parse(detailURL)
	if err != nil {
		return false
	}
	return registrableDomain(u.Hostname()) != registrableDomain(d.Hostname())
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// isPlaceholderURL reports whether u matches one of rules.
func isPlaceholderURL(u string, rules []PlaceholderRule) bool {
	p, err := url.Parse(u)
	if err != nil {
		return false
	}
	host := strings.ToLower(p.Hostname())
	path := strings.TrimRight(p.Path, "/")
	for _, r := range rules {
		if !strings.HasSuffix(host, r.HostSuffix) {
			continue
		}
		for _, rp := range r.Paths {
			if path == strings.TrimRight(rp, "/") {
				return true
			}
		}
	}
	return false
}
