// Package score implements the deterministic relevance scorer: agency tier
// weighting, capped include/exclude keyword matching, a context bonus and a
// conservative penalty for secondary-tier agencies.
package score

import (
	"fmt"
	"strings"
	"time"

	"github.com/cloudflare/ahocorasick"
	"github.com/dlclark/regexp2"
	"golang.org/x/text/unicode/norm"

	"github.com/noticewatch/noticewatch/engine/notice"
)

// matchTimeout bounds a single pattern evaluation. A timeout counts as no match.
const matchTimeout = 250 * time.Millisecond

// Tier is the agency weighting selected for a notice.
type Tier int

const (
	TierNone Tier = iota
	TierPrimary
	TierSecondary
)

func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	default:
		return "none"
	}
}

// Contribution is one (delta, reason) step of a score explanation.
type Contribution struct {
	Delta  int
	Reason string
}

// Result is the outcome of scoring one notice.
type Result struct {
	Score        int
	Tier         Tier
	Included     []string
	Excluded     []string
	Explanation  []Contribution
	IncludeDelta int
	ExcludeDelta int
}

// Reasons returns the reason strings in rule order.
func (r Result) Reasons() []string {
	out := make([]string, len(r.Explanation))
	for i, c := range r.Explanation {
		out[i] = c.Reason
	}
	return out
}

// Interesting reports whether score meets threshold.
func Interesting(score, threshold int) bool { return score >= threshold }

// Scorer evaluates Rules against notices. It is immutable after New and
// safe for concurrent use.
type Scorer struct {
	rules     Rules
	primary   *ahocorasick.Matcher
	secondary *ahocorasick.Matcher
	include   []*regexp2.Regexp
	exclude   []*regexp2.Regexp
	context   []*regexp2.Regexp
}

// New compiles rules into a Scorer.
func New(rules Rules) (*Scorer, error) {
	s := &Scorer{rules: rules}
	s.primary = newMatcher(rules.Agencies.Primary)
	s.secondary = newMatcher(rules.Agencies.Secondary)

	var err error
	if s.include, err = compileAll("include", rules.Keywords.Include); err != nil {
		return nil, err
	}
	if s.exclude, err = compileAll("exclude", rules.Keywords.Exclude); err != nil {
		return nil, err
	}
	if s.context, err = compileAll("context", rules.Keywords.Context); err != nil {
		return nil, err
	}
	return s, nil
}

// Score computes the score and explanation for n. Only the ministry and
// agency meta fields, the title and extra are consulted.
func (s *Scorer) Score(n notice.Notice, extra string) Result {
	var res Result
	w, l := s.rules.Weights, s.rules.Labels

	agencies := norm.NFC.String(n.Meta.Get(notice.MetaMinistry) + " " + n.Meta.Get(notice.MetaAgency))
	switch {
	case matches(s.primary, agencies):
		res.Tier = TierPrimary
		res.add(w.Primary, fmt.Sprintf("%s(+%d)", l.Primary, w.Primary))
	case matches(s.secondary, agencies):
		res.Tier = TierSecondary
		res.add(w.Secondary, fmt.Sprintf("%s(+%d)", l.Secondary, w.Secondary))
	}

	title := n.Title
	if title == "" {
		title = n.Meta.Get(notice.MetaTitle)
	}
	hay := haystack(title, extra)

	res.Included = firstMatches(s.include, hay)
	if len(res.Included) > 0 {
		pts := min(len(res.Included), w.IncludeCap)
		res.IncludeDelta = pts
		res.add(pts, fmt.Sprintf("%s [%s](+%d)", l.Include, joinUnique(res.Included), pts))
	}

	res.Excluded = firstMatches(s.exclude, hay)
	if len(res.Excluded) > 0 {
		pts := min(len(res.Excluded), w.ExcludeCap)
		res.ExcludeDelta = -pts
		res.add(-pts, fmt.Sprintf("%s [%s](-%d)", l.Exclude, joinUnique(res.Excluded), pts))
	}

	if len(firstMatches(s.context, hay)) > 0 {
		res.add(w.Context, fmt.Sprintf("%s(+%d)", l.Context, w.Context))
	}

	if res.Tier == TierSecondary && len(res.Included) == 0 {
		res.add(-w.SecondaryPenalty, fmt.Sprintf("%s(-%d)", l.SecondaryPenalty, w.SecondaryPenalty))
	}
	return res
}

// Apply scores n in place, setting Score and Reasons.
func (s *Scorer) Apply(n *notice.Notice, extra string) Result {
	res := s.Score(*n, extra)
	v := res.Score
	n.Score = &v
	n.Reasons = res.Reasons()
	return res
}

// Rules returns the rules the scorer was built from.
func (s *Scorer) Rules() Rules { return s.rules }

func (r *Result) add(delta int, reason string) {
	r.Score += delta
	r.Explanation = append(r.Explanation, Contribution{Delta: delta, Reason: reason})
}

func haystack(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.ToLower(norm.NFC.String(strings.Join(kept, " ")))
}

// firstMatches returns, per pattern that matches hay, the text of its first
// match. Each pattern contributes at most once.
func firstMatches(patterns []*regexp2.Regexp, hay string) []string {
	if hay == "" {
		return nil
	}
	var out []string
	for _, re := range patterns {
		m, err := re.FindStringMatch(hay)
		if err != nil || m == nil {
			continue
		}
		out = append(out, strings.ToLower(m.String()))
	}
	return out
}

func joinUnique(items []string) string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return strings.Join(out, ", ")
}

func newMatcher(words []string) *ahocorasick.Matcher {
	var kept []string
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			kept = append(kept, norm.NFC.String(w))
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return ahocorasick.NewStringMatcher(kept)
}

func matches(m *ahocorasick.Matcher, text string) bool {
	if m == nil || strings.TrimSpace(text) == "" {
		return false
	}
	return len(m.Match([]byte(text))) > 0
}

func compileAll(kind string, patterns []string) ([]*regexp2.Regexp, error) {
	out := make([]*regexp2.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp2.Compile(norm.NFC.String(p), regexp2.IgnoreCase)
		if err != nil {
			return nil, fmt.Errorf("%s pattern %q: %w", kind, p, err)
		}
		re.MatchTimeout = matchTimeout
		out = append(out, re)
	}
	return out, nil
}
