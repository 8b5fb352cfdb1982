// Package progression converts graded sessions into experience points and
// levels. Everything here is pure; persistence is the caller's job.
package progression

// Categories are the fixed rubric categories, in display order.
var Categories = []string{"opener", "discovery", "objections", "confidence", "close"}

const (
	MinScore = 1
	MaxScore = 5

	MinDifficulty = 1
	MaxDifficulty = 5
)

// difficultyBasisPoints holds the XP multiplier per difficulty tier in
// hundredths, so rounding is exact integer arithmetic.
var difficultyBasisPoints = map[int]int{
	1: 100,
	2: 110,
	3: 125,
	4: 140,
	5: 160,
}

const fallbackTier = 2

// Threshold is the minimum cumulative XP needed to reach Level.
type Threshold struct {
	Level int
	XP    int
}

// Thresholds is ascending in both Level and XP. Level 1 starts at 0.
var Thresholds = []Threshold{
	{1, 0},
	{2, 100},
	{3, 250},
	{4, 450},
	{5, 700},
	{6, 1000},
	{7, 1400},
	{8, 1900},
	{9, 2500},
	{10, 3200},
}

// Multiplier returns the XP multiplier for a difficulty tier. Unknown tiers
// use the tier-2 multiplier.
func Multiplier(difficulty int) float64 {
	return float64(basisPoints(difficulty)) / 100
}

func basisPoints(difficulty int) int {
	if bp, ok := difficultyBasisPoints[difficulty]; ok {
		return bp
	}
	return difficultyBasisPoints[fallbackTier]
}

// ValidDifficulty reports whether d is a supported difficulty tier.
func ValidDifficulty(d int) bool {
	return d >= MinDifficulty && d <= MaxDifficulty
}

// BaseXP is twice the sum of the category scores.
func BaseXP(scores map[string]int) int {
	sum := 0
	for _, v := range scores {
		sum += v
	}
	return sum * 2
}

// XPEarned returns round(BaseXP(scores) * Multiplier(difficulty)), rounding
// halves up.
func XPEarned(scores map[string]int, difficulty int) int {
	base := BaseXP(scores)
	if base <= 0 {
		return 0
	}
	return (base*basisPoints(difficulty) + 50) / 100
}

// LevelFromXP returns the highest level whose threshold is at or below total.
func LevelFromXP(total int) int {
	level := Thresholds[0].Level
	for _, th := range Thresholds {
		if th.XP > total {
			break
		}
		level = th.Level
	}
	return level
}

// NextThreshold returns the XP needed for the level after the one total
// reaches, and false when total is already at the top level.
func NextThreshold(total int) (Threshold, bool) {
	for _, th := range Thresholds {
		if th.XP > total {
			return th, true
		}
	}
	return Threshold{}, false
}

// Grade is the part of a score report that progression cares about.
type Grade struct {
	Scores map[string]int
	// Degraded grades come from unparseable model output and earn nothing.
	Degraded bool
}

// Result is the outcome of applying one grade to a profile.
type Result struct {
	XPEarned   int
	NewTotalXP int
	NewLevel   int
}

// Apply computes the XP a grade earns at the given difficulty and the totals
// it produces on top of totalXP. totalXP never decreases.
func Apply(totalXP, difficulty int, g Grade) Result {
	if totalXP < 0 {
		totalXP = 0
	}
	earned := 0
	if !g.Degraded {
		earned = XPEarned(g.Scores, difficulty)
	}
	newTotal := totalXP + earned
	return Result{
		XPEarned:   earned,
		NewTotalXP: newTotal,
		NewLevel:   LevelFromXP(newTotal),
	}
}
