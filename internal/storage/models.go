package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write loses a race: a message sequence is
// already taken, or the session was already evaluated.
var ErrConflict = errors.New("conflict")

type Profile struct {
	UserID      string    `json:"user_id"`
	CompanyID   string    `json:"company_id"`
	DisplayName string    `json:"display_name"`
	TotalXP     int       `json:"total_xp"`
	Level       int       `json:"level"`
	IsManager   bool      `json:"is_manager"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Session struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	CompanyID       string     `json:"company_id"`
	Industry        string     `json:"industry"`
	Difficulty      int        `json:"difficulty"`
	Persona         string     `json:"persona"`
	DifficultyLabel string     `json:"difficulty_label"`
	CreatedAt       time.Time  `json:"created_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// Ended reports whether the session has been closed by an evaluation.
func (s Session) Ended() bool {
	return s.EndedAt != nil
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

type ScoreReport struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	CompanyID string         `json:"company_id"`
	UserID    string         `json:"user_id"`
	Scores    map[string]int `json:"scores"`
	Summary   string         `json:"summary"`
	XPEarned  int            `json:"xp_earned"`
	Degraded  bool           `json:"degraded"`
	CreatedAt time.Time      `json:"created_at"`
}

// Evaluation is the single logical update that closes a session: the score
// report, the session end stamp and the profile XP credit.
type Evaluation struct {
	Report  ScoreReport
	EndedAt time.Time
	// LevelFor maps the post-credit XP total to a level. It is evaluated
	// inside the transaction against the freshly read total.
	LevelFor func(totalXP int) int
}

// EvaluationResult reports the profile totals written by RecordEvaluation.
type EvaluationResult struct {
	ReportID   int64
	NewTotalXP int
	NewLevel   int
}

// LeaderboardEntry is one ranked row of a tenant leaderboard.
type LeaderboardEntry struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	TotalXP     int    `json:"total_xp"`
	Level       int    `json:"level"`
}
