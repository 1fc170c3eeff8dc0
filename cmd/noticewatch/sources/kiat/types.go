// Package kiat provides the source adapter for the KIAT (한국산업기술진흥원)
// business notice board.
package kiat

const (
	DefaultBaseURL = "https://www.kiat.or.kr"
	Tag            = "KIAT"

	DefaultBoardID  = "90"
	DefaultMenuID   = "b159c9dac684471b87256f1e25404f5e"
	DefaultPageSize = 15

	listPagePath = "/front/board/boardContentsListPage.do"
	listAjaxPath = "/front/board/boardContentsListAjax.do"
	viewPagePath = "/front/board/boardContentsViewPage.do"

	ministry = "산업통상자원부"
	agency   = "한국산업기술진흥원"
)

// Config controls the KIAT adapter.
type Config struct {
	BaseURL  string
	BoardID  string
	MenuID   string
	PageSize int
}

func (c *Config) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.BoardID == "" {
		c.BoardID = DefaultBoardID
	}
	if c.MenuID == "" {
		c.MenuID = DefaultMenuID
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
}
