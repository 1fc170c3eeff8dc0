// Package iris provides the source adapter for the IRIS integrated R&D
// announcement board.
package iris

// Program codes of the IRIS listing.
const (
	ProgramOpen     = "ancmIng"
	ProgramUpcoming = "ancmExpct"
)

const (
	DefaultBaseURL = "https://www.iris.go.kr"
	Tag            = "IRIS"

	listPath = "/contents/retrieveBsnsAncmBtinSituListView.do"
	viewPath = "/contents/retrieveBsnsAncmView.do"
)

// Config controls the IRIS adapter.
type Config struct {
	BaseURL  string
	Programs []string
	// IncludeExtra makes Enrich return the notice body and attachment names
	// as extra scoring text.
	IncludeExtra bool
}

func (c *Config) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if len(c.Programs) == 0 {
		c.Programs = []string{ProgramOpen, ProgramUpcoming}
	}
}
