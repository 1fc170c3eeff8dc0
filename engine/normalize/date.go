package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	rangeSep    = regexp.MustCompile(`[~–—至]`)
	koreanDate  = regexp.MustCompile(`(\d{4})\s*년\s*(\d{1,2})\s*월\s*(\d{1,2})\s*일`)
	sepDate     = regexp.MustCompile(`(\d{4})\s*[./-]\s*(\d{1,2})\s*[./-]\s*(\d{1,2})`)
	compactDate = regexp.MustCompile(`(?:^|\D)(\d{4})(\d{2})(\d{2})(?:\d{4}(?:\d{2})?)?(?:\D|$)`)
)

// ParseDate extracts the first calendar date in s and formats it as
// YYYY-MM-DD. Ranges ("2025.03.10 ~ 2025.03.20") yield their start.
// Accepted forms are "YYYY년 M월 D일", "YYYY-M-D" with '-', '.' or '/'
// separators (trailing time tokens ignored) and compact "YYYYMMDD[HHMM]".
func ParseDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if loc := rangeSep.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	for _, re := range []*regexp.Regexp{koreanDate, sepDate, compactDate} {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		if d, ok := calendarDate(m[1], m[2], m[3]); ok {
			return d, true
		}
	}
	return "", false
}

func calendarDate(ys, ms, ds string) (string, bool) {
	y, err1 := strconv.Atoi(ys)
	mo, err2 := strconv.Atoi(ms)
	d, err3 := strconv.Atoi(ds)
	if err1 != nil || err2 != nil || err3 != nil {
		return "", false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, mo, d), true
}
