package roleplay

import (
	"regexp"
	"strings"
)

// Outcome codes carried by the termination tag.
const (
	OutcomeNotInterested = "not_interested"
	OutcomeQualifiedLead = "qualified_lead"
	OutcomeSale          = "sale"
)

var endTag = regexp.MustCompile(`(?i)\[\[\s*END\s*:\s*(not_interested|qualified_lead|sale)\s*\]\]`)

// Reply is a model response split into the text shown to the rep and the
// termination signal.
type Reply struct {
	Text    string `json:"reply"`
	Done    bool   `json:"done"`
	Outcome string `json:"outcome,omitempty"`
}

// ParseReply extracts the first termination tag from raw. With a tag, Text is
// everything before it, trimmed, and anything after it is dropped. Without
// one, Text is raw unchanged.
func ParseReply(raw string) Reply {
	loc := endTag.FindStringSubmatchIndex(raw)
	if loc == nil {
		return Reply{Text: raw}
	}
	return Reply{
		Text:    strings.TrimSpace(raw[:loc[0]]),
		Done:    true,
		Outcome: strings.ToLower(raw[loc[2]:loc[3]]),
	}
}
