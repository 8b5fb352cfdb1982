package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/salesdojo/internal/progression"
	"github.com/kalambet/salesdojo/internal/storage"
	"github.com/kalambet/salesdojo/internal/trainer"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// Swapped out by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorCyan, "→ "+msg))
}

func printProspect(w io.Writer, text string) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorCyan, "Prospect:"), text)
}

func printMessage(w io.Writer, m storage.Message) {
	if m.Role == storage.RoleAssistant {
		printProspect(w, m.Content)
		return
	}
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "You:"), m.Content)
}

func printOutcome(w io.Writer, outcome string) {
	label := strings.ReplaceAll(outcome, "_", " ")
	fmt.Fprintf(w, "%s\n", colorize(colorYellow, "[conversation over: "+label+"]"))
}

func printScoreReport(w io.Writer, r storage.ScoreReport) {
	for _, c := range progression.Categories {
		score := min(max(r.Scores[c], 0), progression.MaxScore)
		bar := strings.Repeat("■", score) + strings.Repeat("□", progression.MaxScore-score)
		fmt.Fprintf(w, "  %-11s %s %d/%d\n", c, bar, score, progression.MaxScore)
	}
	fmt.Fprintf(w, "\n  %s\n", r.Summary)
	if r.Degraded {
		fmt.Fprintf(w, "  %s\n", colorize(colorYellow, "(grader output was unreadable; fallback scores, no XP)"))
	}
}

func printGradeResult(w io.Writer, res trainer.GradeResult) {
	printScoreReport(w, res.Report)
	fmt.Fprintln(w)
	if res.AlreadyGraded {
		fmt.Fprintf(w, "  Already graded: %d XP was credited at the time.\n", res.Report.XPEarned)
		return
	}
	fmt.Fprintf(w, "  %s  total %d XP, level %d\n",
		colorize(colorGreen, fmt.Sprintf("+%d XP", res.XPEarned)), res.NewTotalXP, res.NewLevel)
	if res.LeveledUp {
		fmt.Fprintf(w, "  %s\n", colorize(colorBold, fmt.Sprintf("Level up! You reached level %d.", res.NewLevel)))
	}
}
