package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/kalambet/salesdojo/internal/progression"
)

// FallbackSummary is the summary of a degraded report.
const FallbackSummary = "Automated grading could not be parsed."

// Report is a parsed grade.
type Report struct {
	Scores   map[string]int `json:"scores"`
	Summary  string         `json:"summary"`
	Degraded bool           `json:"degraded"`
}

// Fallback returns the degraded report used when model output cannot be
// parsed: every category at the minimum score.
func Fallback() Report {
	scores := make(map[string]int, len(progression.Categories))
	for _, c := range progression.Categories {
		scores[c] = progression.MinScore
	}
	return Report{Scores: scores, Summary: FallbackSummary, Degraded: true}
}

type rawScores struct {
	Opener     *int `json:"opener"`
	Discovery  *int `json:"discovery"`
	Objections *int `json:"objections"`
	Confidence *int `json:"confidence"`
	Close      *int `json:"close"`
}

type rawReport struct {
	Scores  *rawScores `json:"scores"`
	Summary *string    `json:"summary"`
}

var codeFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?\\s*```$")

// Parse decodes raw model output into a Report. Exactly one JSON object is
// accepted: unknown keys, missing or out-of-range categories, an empty
// summary and trailing data are all errors. A single surrounding markdown
// code fence is tolerated.
func Parse(raw string) (Report, error) {
	text := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if text == "" {
		return Report{}, errors.New("empty grading output")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.DisallowUnknownFields()

	var rr rawReport
	if err := dec.Decode(&rr); err != nil {
		return Report{}, fmt.Errorf("decoding report: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Report{}, errors.New("trailing data after report object")
	}
	if rr.Scores == nil {
		return Report{}, errors.New("missing scores")
	}
	if rr.Summary == nil || strings.TrimSpace(*rr.Summary) == "" {
		return Report{}, errors.New("missing summary")
	}

	fields := map[string]*int{
		"opener":     rr.Scores.Opener,
		"discovery":  rr.Scores.Discovery,
		"objections": rr.Scores.Objections,
		"confidence": rr.Scores.Confidence,
		"close":      rr.Scores.Close,
	}
	scores := make(map[string]int, len(progression.Categories))
	for _, c := range progression.Categories {
		v := fields[c]
		if v == nil {
			return Report{}, fmt.Errorf("missing score %q", c)
		}
		if *v < progression.MinScore || *v > progression.MaxScore {
			return Report{}, fmt.Errorf("score %q = %d out of range", c, *v)
		}
		scores[c] = *v
	}

	return Report{Scores: scores, Summary: strings.TrimSpace(*rr.Summary)}, nil
}
