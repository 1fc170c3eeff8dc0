package notice

// SkipReasonNoOriginalLink marks an entry dropped because no original
// destination link could be validated.
const SkipReasonNoOriginalLink = "no-original-link"

// Validation is the diagnostic record of one link check.
type Validation struct {
	Valid       bool   `json:"valid"`
	TriedHead   bool   `json:"tried_head"`
	TriedGet    bool   `json:"tried_get"`
	Status      int    `json:"status,omitempty"`
	FinalURL    string `json:"final_url"`
	ContentType string `json:"ct,omitempty"`
	Note        string `json:"note,omitempty"`
	Hops        int    `json:"hops,omitempty"`
	// RefreshedTo is the first meta-refresh target that was followed.
	RefreshedTo string `json:"refreshed_to,omitempty"`
}

// SkipEntry is one line of the skip log.
type SkipEntry struct {
	TS          string      `json:"ts"`
	Reason      string      `json:"reason"`
	Title       string      `json:"title"`
	Date        string      `json:"date"`
	ListInst    string      `json:"list_inst"`
	DetailURL   string      `json:"detail_url"`
	PickedLink  string      `json:"picked_link"`
	FinalGoLink string      `json:"final_go_link"`
	GoLinkType  string      `json:"go_link_type"`
	Note        string      `json:"note,omitempty"`
	Validation  *Validation `json:"validation,omitempty"`
}
