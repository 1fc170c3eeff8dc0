// Package notice defines the canonical notice entity, the raw record
// contract emitted by source adapters, and the result bundle handed to the
// persistence layer.
package notice

import (
	"strings"
)

// Well-known meta keys shared by adapters, the scorer and the resolver.
const (
	MetaMinistry       = "소관부처"
	MetaAgency         = "전문기관"
	MetaTitle          = "공고명"
	MetaPostedDate     = "공고일자"
	MetaApplyPeriod    = "접수기간"
	MetaAnnouncementID = "공고번호"
)

// OtherInstitution is the bucket used when no institution can be attributed.
const OtherInstitution = "기타"

// RawRecord is the unnormalized output of a source adapter: an ordered
// field map plus the tag of the source that produced it.
type RawRecord struct {
	Source string
	Fields Meta
}

// NewRawRecord builds a RawRecord from alternating key/value arguments.
func NewRawRecord(source string, kv ...string) RawRecord {
	return RawRecord{Source: source, Fields: NewMeta(kv...)}
}

// Notice is one normalized announcement.
type Notice struct {
	Source      string   `json:"source"`
	Title       string   `json:"title"`
	Link        string   `json:"link"`
	Date        string   `json:"date,omitempty"`
	Institution string   `json:"institution"`
	Meta        Meta     `json:"meta"`
	Score       *int     `json:"score,omitempty"`
	Reasons     []string `json:"reasons,omitempty"`
}

// Key is the deduplication identity of a notice.
type Key struct {
	Title string
	Date  string
	Link  string
}

// Key returns the trimmed (title, date, link) identity.
func (n Notice) Key() Key {
	return Key{
		Title: strings.TrimSpace(n.Title),
		Date:  strings.TrimSpace(n.Date),
		Link:  strings.TrimSpace(n.Link),
	}
}

// ScoreValue returns the score or 0 when the notice has not been scored.
func (n Notice) ScoreValue() int {
	if n.Score == nil {
		return 0
	}
	return *n.Score
}

// Bundle is the persisted result of one aggregation run.
type Bundle struct {
	Count       int      `json:"count"`
	GeneratedAt string   `json:"generated_at"`
	Items       []Notice `json:"items"`
	Threshold   *int     `json:"threshold"`
	RunID       string   `json:"run_id,omitempty"`
}

// EmptyBundle is the well-defined result returned when nothing usable is
// persisted.
func EmptyBundle() Bundle {
	return Bundle{Items: []Notice{}}
}

// TimestampLayout is the layout of Bundle.GeneratedAt.
const TimestampLayout = "2006-01-02 15:04:05"

var placeholderValues = map[string]bool{
	"":     true,
	"-":    true,
	"–":    true,
	"—":    true,
	"#":    true,
	"없음":   true,
	"미정":   true,
	"n/a":  true,
	"null": true,
}

// IsPlaceholderValue reports whether s is an empty marker such as "-" or
// "미정" rather than real content.
func IsPlaceholderValue(s string) bool {
	return placeholderValues[strings.ToLower(strings.TrimSpace(s))]
}

// IsPlaceholderLink reports whether href can never be a real destination.
func IsPlaceholderLink(href string) bool {
	s := strings.ToLower(strings.TrimSpace(href))
	if placeholderValues[s] {
		return true
	}
	for _, p := range []string{"javascript:", "mailto:", "tel:"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
