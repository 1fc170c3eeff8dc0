package resolve

import (
	"regexp"
	"time"
)

// AnchorWeight scores anchor text containing Keyword.
type AnchorWeight struct {
	Keyword string
	Weight  int
}

// PlaceholderRule matches internal URLs that never lead to real content.
type PlaceholderRule struct {
	HostSuffix string
	Paths      []string
}

// Options tunes candidate selection. Zero fields take DefaultOptions values.
type Options struct {
	MetaLabels         []string
	InstitutionLabels  []string
	BodySelector       string
	AttachmentSelector string
	AttachmentPattern  *regexp.Regexp
	Anchors            []AnchorWeight
	ExternalBonus      int
	FallbackScore      int
	MaxFallback        int
	Placeholders       []PlaceholderRule
	DetailTimeout      time.Duration
}

// DefaultOptions mirrors the layout of the KHIDI-style board detail pages.
var DefaultOptions = Options{
	MetaLabels:         []string{"원문링크", "원문URL", "신청바로가기", "교육신청", "행사바로가기", "참가신청", "접수"},
	InstitutionLabels:  []string{"출처", "기관", "주최", "주관", "주최/주관", "교육기관", "발행기관"},
	BodySelector:       ".view_cont, .view-contents, .board-view, .board_view, .bbsView, .contents, .boardContent",
	AttachmentSelector: ".attach a[href], .file a[href], .add_file a[href], .add_file_list a[href], .downFiles a[href]",
	AttachmentPattern:  regexp.MustCompile(`(?i)\.(pdf|hwp|docx?|pptx?)$`),
	Anchors: []AnchorWeight{
		{"신청", 5}, {"바로가기", 4}, {"원문", 4}, {"공고문", 3}, {"자세히", 2}, {"안내", 1},
	},
	ExternalBonus: 2,
	FallbackScore: 3,
	MaxFallback:   5,
	Placeholders:  []PlaceholderRule{{HostSuffix: "khidi.or.kr", Paths: []string{"/board", "/board/-"}}},
	DetailTimeout: 20 * time.Second,
}

func (o Options) withDefaults() Options {
	d := DefaultOptions
	if len(o.MetaLabels) == 0 {
		o.MetaLabels = d.MetaLabels
	}
	if len(o.InstitutionLabels) == 0 {
		o.InstitutionLabels = d.InstitutionLabels
	}
	if o.BodySelector == "" {
		o.BodySelector = d.BodySelector
	}
	if o.AttachmentSelector == "" {
		o.AttachmentSelector = d.AttachmentSelector
	}
	if o.AttachmentPattern == nil {
		o.AttachmentPattern = d.AttachmentPattern
	}
	if len(o.Anchors) == 0 {
		o.Anchors = d.Anchors
	}
	if o.ExternalBonus == 0 {
		o.ExternalBonus = d.ExternalBonus
	}
	if o.FallbackScore == 0 {
		o.FallbackScore = d.FallbackScore
	}
	if o.MaxFallback <= 0 {
		o.MaxFallback = d.MaxFallback
	}
	if o.Placeholders == nil {
		o.Placeholders = d.Placeholders
	}
	if o.DetailTimeout <= 0 {
		o.DetailTimeout = d.DetailTimeout
	}
	return o
}
