// Package g2b provides the source adapter for KONEPS (나라장터) service bid
// notices, read through the data.go.kr open standard API.
package g2b

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultBaseURL    = "http://apis.data.go.kr/1230000/ao/PubDataOpnStdService"
	DetailURLTemplate = "https://www.g2b.go.kr/ep/invitation/publish/bidInfoDtl.do?bidno=%s&bidseq=%s&releaseYn=Y"
	Tag               = "G2B"

	noticeEndpoint = "getDataSetOpnStdBidPblancInfo"

	// maxPostedWindow caps the posted-time query window.
	maxPostedWindow = 31 * 24 * time.Hour
)

// Mode selects the API query window.
type Mode string

const (
	// ModePosted queries by notice posting time.
	ModePosted Mode = "posted"
	// ModeDeadline queries by bid opening and closing time.
	ModeDeadline Mode = "deadline"
	// ModeMix tries ModePosted, then ModeDeadline when nothing was found.
	ModeMix Mode = "mix"
)

// ParseMode accepts the mode names and their short aliases ntce and clse.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeMix):
		return ModeMix, nil
	case string(ModePosted), "ntce":
		return ModePosted, nil
	case string(ModeDeadline), "clse":
		return ModeDeadline, nil
	}
	return "", fmt.Errorf("g2b: unknown mode %q", s)
}

func (m Mode) order() []Mode {
	if m == ModeMix {
		return []Mode{ModePosted, ModeDeadline}
	}
	return []Mode{m}
}

// DefaultKeywords is the title filter used when Config.Keywords is nil.
var DefaultKeywords = []string{"의료기기", "헬스케어"}

// Config controls the G2B adapter.
type Config struct {
	BaseURL string
	APIKey  string
	// DaysBack is how many calendar days, today included, a notice may
	// have been posted in.
	DaysBack int
	Rows     int
	// ScanPages bounds reverse paging per mode. Zero derives it from the
	// feed's page count.
	ScanPages  int
	Prefer     Mode
	Keywords   []string
	MaxDetails int
	Location   *time.Location
}

func (c *Config) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.DaysBack <= 0 {
		c.DaysBack = 5
	}
	if c.Rows <= 0 {
		c.Rows = 50
	}
	if c.Prefer == "" {
		c.Prefer = ModeMix
	}
	if c.Keywords == nil {
		c.Keywords = DefaultKeywords
	}
	if c.MaxDetails <= 0 {
		c.MaxDetails = 300
	}
}
