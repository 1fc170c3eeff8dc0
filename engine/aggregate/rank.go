package aggregate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/noticewatch/noticewatch/engine/notice"
)

// Rank selects the final ordering of a bundle.
type Rank string

const (
	// RankScore orders by score desc, then date desc with absent dates
	// last, then title asc.
	RankScore Rank = "score"
	// RankDate orders by date desc with absent dates last, then title asc.
	RankDate Rank = "date"
)

// ParseRank validates a configured rank name. Empty means RankScore.
func ParseRank(s string) (Rank, error) {
	switch r := Rank(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RankScore, nil
	case RankScore, RankDate:
		return r, nil
	default:
		return "", fmt.Errorf("unknown rank %q", s)
	}
}

// Sort orders items in place. The sort is stable, so items equal under the
// ranking keep their collection order.
func Sort(items []notice.Notice, r Rank) {
	slices.SortStableFunc(items, func(a, b notice.Notice) int {
		if r != RankDate {
			if c := b.ScoreValue() - a.ScoreValue(); c != 0 {
				return c
			}
		}
		if c := compareDateDesc(a.Date, b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.Title, b.Title)
	})
}

// compareDateDesc orders YYYY-MM-DD strings newest first with empty dates
// last.
func compareDateDesc(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}
	return strings.Compare(b, a)
}
