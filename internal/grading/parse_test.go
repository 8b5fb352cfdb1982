package grading

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const validReport = `{"scores":{"opener":3,"discovery":2,"objections":4,"confidence":3,"close":2},"summary":"Solid opener, dig deeper next time."}`

func TestParse_Valid(t *testing.T) {
	r, err := Parse(validReport)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := map[string]int{"opener": 3, "discovery": 2, "objections": 4, "confidence": 3, "close": 2}
	if diff := cmp.Diff(want, r.Scores); diff != "" {
		t.Errorf("scores mismatch (-want +got):\n%s", diff)
	}
	if r.Summary != "Solid opener, dig deeper next time." {
		t.Errorf("Summary = %q", r.Summary)
	}
	if r.Degraded {
		t.Error("Degraded = true, want false")
	}
}

func TestParse_CodeFenceTolerated(t *testing.T) {
	for _, raw := range []string{
		"```json\n" + validReport + "\n```",
		"```\n" + validReport + "\n```",
		"  \n```JSON\n" + validReport + "\n```  \n",
	} {
		r, err := Parse(raw)
		if err != nil {
			t.Errorf("Parse(%q): %v", raw, err)
			continue
		}
		if r.Scores["opener"] != 3 {
			t.Errorf("Parse(%q) opener = %d, want 3", raw, r.Scores["opener"])
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"prose", "The rep did great! 5/5"},
		{"prose before json", "Here you go: " + validReport},
		{"trailing data", validReport + " thanks!"},
		{"two objects", validReport + validReport},
		{"unknown top-level key", `{"scores":{"opener":3,"discovery":2,"objections":4,"confidence":3,"close":2},"summary":"x","grade":"B"}`},
		{"unknown category", `{"scores":{"opener":3,"discovery":2,"objections":4,"confidence":3,"close":2,"rapport":5},"summary":"x"}`},
		{"missing category", `{"scores":{"opener":3,"discovery":2,"objections":4,"confidence":3},"summary":"x"}`},
		{"score too high", `{"scores":{"opener":6,"discovery":2,"objections":4,"confidence":3,"close":2},"summary":"x"}`},
		{"score zero", `{"scores":{"opener":0,"discovery":2,"objections":4,"confidence":3,"close":2},"summary":"x"}`},
		{"fractional score", `{"scores":{"opener":3.5,"discovery":2,"objections":4,"confidence":3,"close":2},"summary":"x"}`},
		{"string score", `{"scores":{"opener":"3","discovery":2,"objections":4,"confidence":3,"close":2},"summary":"x"}`},
		{"missing summary", `{"scores":{"opener":3,"discovery":2,"objections":4,"confidence":3,"close":2}}`},
		{"blank summary", `{"scores":{"opener":3,"discovery":2,"objections":4,"confidence":3,"close":2},"summary":"  "}`},
		{"missing scores", `{"summary":"x"}`},
		{"null", `null`},
		{"array", `[` + validReport + `]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.raw); err == nil {
				t.Errorf("Parse(%q) = nil error, want rejection", tt.raw)
			}
		})
	}
}

func TestFallback(t *testing.T) {
	f := Fallback()
	if !f.Degraded {
		t.Error("Degraded = false, want true")
	}
	if f.Summary != FallbackSummary {
		t.Errorf("Summary = %q, want %q", f.Summary, FallbackSummary)
	}
	if len(f.Scores) != 5 {
		t.Fatalf("len(Scores) = %d, want 5", len(f.Scores))
	}
	for c, v := range f.Scores {
		if v != 1 {
			t.Errorf("Scores[%s] = %d, want 1", c, v)
		}
	}
}
