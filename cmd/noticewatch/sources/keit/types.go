// Package keit provides the source adapter for the KEIT SROME task
// announcement list.
package keit

const (
	DefaultBaseURL     = "https://srome.keit.re.kr"
	DefaultIRISBaseURL = "https://www.iris.go.kr"
	DefaultProgramID   = "XPG201040000"
	Tag                = "KEIT"

	listPath     = "/srome/biz/perform/opnnPrpsl/retrieveTaskAnncmListView.do"
	viewPath     = "/srome/biz/perform/opnnPrpsl/retrieveTaskAnncmView.do"
	irisViewPath = "/contents/retrieveBsnsAncmView.do"

	ministry = "산업통상자원부"
	agency   = "한국산업기술평가원"
)

// Config controls the KEIT adapter.
type Config struct {
	BaseURL     string
	IRISBaseURL string
	ProgramID   string
	// Pages overrides the feed's page count when positive. The list is
	// newest-first, so one page is usually enough.
	Pages int
}

func (c *Config) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.IRISBaseURL == "" {
		c.IRISBaseURL = DefaultIRISBaseURL
	}
	if c.ProgramID == "" {
		c.ProgramID = DefaultProgramID
	}
}
