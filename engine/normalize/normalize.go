// Package normalize maps per-source raw records onto the canonical Notice.
package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/noticewatch/noticewatch/engine/notice"
)

// Aliases lists, per canonical field, the raw field names that may carry it.
// The first non-empty alias wins.
type Aliases struct {
	Title       []string
	Link        []string
	Date        []string
	Institution []string
	Ministry    []string
	Agency      []string
}

// DefaultAliases covers the field names used by the bundled adapters.
var DefaultAliases = Aliases{
	Title:       []string{"title", notice.MetaTitle, "bidNtceNm"},
	Link:        []string{"link", "url", "bidNtceUrl"},
	Date:        []string{"date", notice.MetaPostedDate, "등록일", "게시일", "notice_posted_at"},
	Institution: []string{"institution", "ntceInsttNm"},
	Ministry:    []string{"ministry", notice.MetaMinistry},
	Agency:      []string{"agency", notice.MetaAgency},
}

// Normalizer converts RawRecords into Notices. It is stateless and safe for
// concurrent use.
type Normalizer struct {
	aliases Aliases
}

// New creates a Normalizer with the given aliases.
func New(aliases Aliases) *Normalizer {
	return &Normalizer{aliases: aliases}
}

// Default returns a Normalizer using DefaultAliases.
func Default() *Normalizer { return New(DefaultAliases) }

// Normalize produces exactly one Notice from rec. Score and reasons are left
// unset. Malformed fields are dropped, never reported.
func (n *Normalizer) Normalize(rec notice.RawRecord) notice.Notice {
	fields := cleanFields(rec.Fields)
	used := make(map[string]bool)

	pick := func(aliases []string) string {
		for _, a := range aliases {
			if v := fields.Get(a); v != "" {
				used[a] = true
				return v
			}
		}
		return ""
	}

	out := notice.Notice{Source: rec.Source}
	out.Title = pick(n.aliases.Title)
	out.Link = strings.TrimSpace(pick(n.aliases.Link))
	out.Institution = pick(n.aliases.Institution)
	for _, a := range n.aliases.Date {
		if raw := fields.Get(a); raw != "" {
			if d, ok := ParseDate(raw); ok {
				out.Date = d
				used[a] = true
				break
			}
		}
	}
	ministry := pick(n.aliases.Ministry)
	agency := pick(n.aliases.Agency)

	// Canonical meta keys keep their values even when they were consumed.
	keep := map[string]bool{
		notice.MetaTitle:      true,
		notice.MetaPostedDate: true,
	}
	var meta notice.Meta
	if ministry != "" {
		meta.Set(notice.MetaMinistry, ministry)
	}
	if agency != "" {
		meta.Set(notice.MetaAgency, agency)
	}
	fields.Each(func(k, v string) {
		if used[k] && !keep[k] {
			return
		}
		meta.SetDefault(k, v)
	})
	out.Meta = meta

	if out.Institution == "" {
		out.Institution = joinInstitution(ministry, agency)
	}
	return out
}

// InstitutionOf derives an institution from the ministry and agency meta
// fields, or "" when neither is present.
func InstitutionOf(meta notice.Meta) string {
	return joinInstitution(meta.Get(notice.MetaMinistry), meta.Get(notice.MetaAgency))
}

func joinInstitution(ministry, agency string) string {
	switch {
	case ministry != "" && agency != "":
		return ministry + " > " + agency
	case ministry != "":
		return ministry
	default:
		return agency
	}
}

func cleanFields(in notice.Meta) notice.Meta {
	var out notice.Meta
	in.Each(func(k, v string) {
		v = CleanText(v)
		if v == "" {
			return
		}
		out.Set(strings.TrimSpace(k), v)
	})
	return out
}

// CleanText applies NFC normalization and collapses runs of whitespace.
func CleanText(s string) string {
	if !norm.NFC.IsNormalString(s) {
		s = norm.NFC.String(s)
	}
	return strings.Join(strings.Fields(s), " ")
}
