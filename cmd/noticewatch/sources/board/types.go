// Package board provides a configurable adapter for table-style list boards
// and the KHIDI notice board preset.
package board

// Config describes one list board.
type Config struct {
	// Name is the source name, Tag the source tag stamped on records.
	Name string
	Tag  string

	BaseURL string
	// PagePath is formatted with the page number, e.g. "/board?pageNum=%d".
	PagePath string

	RowSelector   string
	LinkSelectors []string
	DateSelectors []string

	Ministry string
	Agency   string
	// Pages overrides the feed's page count when positive.
	Pages int
}

// KHIDI returns the preset for the KHIDI (한국보건산업진흥원) notice board.
func KHIDI() Config {
	return Config{
		Name:          "khidi",
		Tag:           "KHIDI",
		BaseURL:       "https://www.khidi.or.kr",
		PagePath:      "/board?menuId=MENU01108&pageNum=%d&rowCnt=20",
		RowSelector:   "table tbody tr",
		LinkSelectors: []string{"td.ellipsis a", "a[href*='/board/view']"},
		DateSelectors: []string{"td:nth-child(4)", ".date"},
		Ministry:      "보건복지부",
		Agency:        "한국보건산업진흥원",
	}
}
