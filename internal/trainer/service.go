// Package trainer orchestrates a practice session end to end: start, turns,
// grading with atomic XP credit, and the company leaderboard.
package trainer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/salesdojo/internal/apperr"
	"github.com/kalambet/salesdojo/internal/engine"
	"github.com/kalambet/salesdojo/internal/grading"
	"github.com/kalambet/salesdojo/internal/profile"
	"github.com/kalambet/salesdojo/internal/progression"
	"github.com/kalambet/salesdojo/internal/roleplay"
	"github.com/kalambet/salesdojo/internal/session"
	"github.com/kalambet/salesdojo/internal/storage"
)

const (
	DefaultLeaderboardLimit = 50
	MaxLeaderboardLimit     = 200
)

// Config wires a Service. Store and Engine are required.
type Config struct {
	Store   *storage.Store
	Engine  engine.Engine
	Catalog *roleplay.Catalog

	ChatModel    string
	GradingModel string
	// Timeout bounds each completion call.
	Timeout time.Duration

	LeaderboardLimit int
	Selector         roleplay.Selector
	Now              func() time.Time
}

// Service is the application core used by the HTTP API, the MCP tools and
// the CLI.
type Service struct {
	store    *storage.Store
	engine   engine.Engine
	profiles *profile.Manager
	sessions *session.Manager
	turns    *roleplay.Engine
	grader   *grading.Grader

	leaderboardLimit int
	now              func() time.Time
}

// New creates a Service from cfg.
func New(cfg Config) *Service {
	if cfg.Catalog == nil {
		cfg.Catalog = roleplay.DefaultCatalog()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.GradingModel == "" {
		cfg.GradingModel = cfg.ChatModel
	}
	limit := cfg.LeaderboardLimit
	if limit <= 0 || limit > MaxLeaderboardLimit {
		limit = DefaultLeaderboardLimit
	}

	profiles := profile.NewManager(cfg.Store)
	return &Service{
		store:    cfg.Store,
		engine:   cfg.Engine,
		profiles: profiles,
		sessions: session.NewManager(cfg.Store, profiles, cfg.Catalog, session.Options{
			Selector: cfg.Selector,
			Now:      cfg.Now,
		}),
		turns: roleplay.NewEngine(cfg.Engine, cfg.Store, cfg.Catalog, roleplay.Options{
			Model:    cfg.ChatModel,
			Timeout:  cfg.Timeout,
			Selector: cfg.Selector,
			Now:      cfg.Now,
		}),
		grader:           grading.New(cfg.Engine, cfg.GradingModel, cfg.Timeout),
		leaderboardLimit: limit,
		now:              cfg.Now,
	}
}

// Catalog returns the prompt catalogs sessions are built from.
func (s *Service) Catalog() *roleplay.Catalog { return s.turns.Catalog() }

// EngineName names the active completion backend.
func (s *Service) EngineName() string { return s.engine.Name() }

// Health reports whether the store is reachable.
func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// StartRequest is the input of StartSession.
type StartRequest struct {
	Industry        string `json:"industry"`
	Difficulty      int    `json:"difficulty"`
	Persona         string `json:"persona,omitempty"`
	DifficultyLabel string `json:"difficulty_label,omitempty"`
	CompanyID       string `json:"company_id,omitempty"`
	DisplayName     string `json:"display_name,omitempty"`
}

// StartSession opens a session for userID.
func (s *Service) StartSession(ctx context.Context, userID string, req StartRequest) (storage.Session, error) {
	return s.sessions.Start(ctx, userID, req.Industry, req.Difficulty, session.StartOptions{
		Persona:         req.Persona,
		DifficultyLabel: req.DifficultyLabel,
		CompanyID:       req.CompanyID,
		DisplayName:     req.DisplayName,
	})
}

// TurnRequest is the input of TakeTurn. Persona and DifficultyLabel override
// the values pinned on the session for this turn only.
type TurnRequest struct {
	Message         string `json:"message"`
	Persona         string `json:"persona,omitempty"`
	DifficultyLabel string `json:"difficulty_label,omitempty"`
}

// TakeTurn sends one rep message in the caller's session.
func (s *Service) TakeTurn(ctx context.Context, userID, sessionID string, req TurnRequest) (roleplay.Turn, error) {
	sess, unlock, err := s.sessions.Acquire(ctx, sessionID, userID)
	if err != nil {
		return roleplay.Turn{}, err
	}
	defer unlock()

	if sess.Ended() {
		return roleplay.Turn{}, fmt.Errorf("%w: session %q has ended", apperr.ErrConflict, sessionID)
	}

	transcript, err := s.sessions.Transcript(ctx, sess)
	if err != nil {
		return roleplay.Turn{}, err
	}

	persona := req.Persona
	if persona == "" {
		persona = sess.Persona
	}
	label := req.DifficultyLabel
	if label == "" {
		label = sess.DifficultyLabel
	}
	return s.turns.TakeTurn(ctx, sess, transcript, req.Message, persona, label)
}

// GradeResult is the outcome of grading a session.
type GradeResult struct {
	Report     storage.ScoreReport `json:"report"`
	XPEarned   int                 `json:"xp_earned"`
	NewTotalXP int                 `json:"total_xp"`
	NewLevel   int                 `json:"level"`
	LeveledUp  bool                `json:"leveled_up"`
	// AlreadyGraded is set when the session had been evaluated before; the
	// stored report is returned and nothing is credited.
	AlreadyGraded bool `json:"already_graded"`
}

// Grade evaluates the caller's session, credits the XP and ends the session
// in one transaction. Grading an evaluated session returns the stored report.
func (s *Service) Grade(ctx context.Context, userID, sessionID string) (GradeResult, error) {
	sess, unlock, err := s.sessions.Acquire(ctx, sessionID, userID)
	if err != nil {
		return GradeResult{}, err
	}
	defer unlock()

	if sess.Ended() {
		return s.storedGrade(ctx, userID, sessionID)
	}

	transcript, err := s.sessions.Transcript(ctx, sess)
	if err != nil {
		return GradeResult{}, err
	}

	report, err := s.grader.Grade(ctx, transcript)
	if err != nil {
		return GradeResult{}, err
	}

	caller, err := s.profiles.Resolve(ctx, userID)
	if err != nil {
		return GradeResult{}, err
	}
	applied := progression.Apply(caller.TotalXP, sess.Difficulty, progression.Grade{
		Scores:   report.Scores,
		Degraded: report.Degraded,
	})

	at := s.now().UTC()
	sr := storage.ScoreReport{
		SessionID: sess.ID,
		CompanyID: sess.CompanyID,
		UserID:    sess.UserID,
		Scores:    report.Scores,
		Summary:   report.Summary,
		XPEarned:  applied.XPEarned,
		Degraded:  report.Degraded,
		CreatedAt: at,
	}
	res, err := s.store.RecordEvaluation(ctx, storage.Evaluation{
		Report:   sr,
		EndedAt:  at,
		LevelFor: progression.LevelFromXP,
	})
	if errors.Is(err, storage.ErrConflict) {
		// Another process evaluated the session first.
		return s.storedGrade(ctx, userID, sessionID)
	}
	if err != nil {
		out, _ := json.Marshal(report)
		slog.Warn("evaluation not persisted", "session_id", sess.ID, "report", string(out), "error", err)
		return GradeResult{}, &apperr.PersistError{SessionID: sess.ID, Output: string(out), Err: err}
	}
	s.profiles.Invalidate(userID)

	sr.ID = res.ReportID
	slog.Info("session graded",
		"session_id", sess.ID,
		"user_id", sess.UserID,
		"xp_earned", applied.XPEarned,
		"total_xp", res.NewTotalXP,
		"level", res.NewLevel,
		"degraded", report.Degraded,
	)
	return GradeResult{
		Report:     sr,
		XPEarned:   applied.XPEarned,
		NewTotalXP: res.NewTotalXP,
		NewLevel:   res.NewLevel,
		LeveledUp:  res.NewLevel > caller.Level,
	}, nil
}

func (s *Service) storedGrade(ctx context.Context, userID, sessionID string) (GradeResult, error) {
	r, err := s.store.GetScoreReport(ctx, sessionID)
	if err != nil {
		return GradeResult{}, fmt.Errorf("loading score report for %s: %w", sessionID, err)
	}
	s.profiles.Invalidate(userID)
	caller, err := s.profiles.Resolve(ctx, userID)
	if err != nil {
		return GradeResult{}, err
	}
	return GradeResult{
		Report:        r,
		XPEarned:      r.XPEarned,
		NewTotalXP:    caller.TotalXP,
		NewLevel:      caller.Level,
		AlreadyGraded: true,
	}, nil
}

// Leaderboard returns the ranked profiles of companyID. limit is clamped to
// [1, MaxLeaderboardLimit]; non-positive selects the configured default.
func (s *Service) Leaderboard(ctx context.Context, companyID string, limit int) ([]storage.LeaderboardEntry, error) {
	if companyID == "" {
		return nil, apperr.Invalid("company id is required")
	}
	if limit <= 0 {
		limit = s.leaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}
	entries, err := s.store.Leaderboard(ctx, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading leaderboard: %w", err)
	}
	return entries, nil
}

// CallerLeaderboard returns the leaderboard of the caller's company.
func (s *Service) CallerLeaderboard(ctx context.Context, userID string, limit int) ([]storage.LeaderboardEntry, error) {
	caller, err := s.profiles.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Leaderboard(ctx, caller.CompanyID, limit)
}

// SessionDetail is a session with its transcript and, once graded, its report.
type SessionDetail struct {
	Session  storage.Session      `json:"session"`
	Messages []storage.Message    `json:"messages"`
	Report   *storage.ScoreReport `json:"report,omitempty"`
}

// GetSession returns the caller's session with transcript and report.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (SessionDetail, error) {
	sess, err := s.sessions.Load(ctx, sessionID, userID)
	if err != nil {
		return SessionDetail{}, err
	}
	msgs, err := s.sessions.Transcript(ctx, sess)
	if err != nil {
		return SessionDetail{}, err
	}
	d := SessionDetail{Session: sess, Messages: msgs}

	r, err := s.store.GetScoreReport(ctx, sessionID)
	switch {
	case err == nil:
		d.Report = &r
	case !errors.Is(err, storage.ErrNotFound):
		return SessionDetail{}, fmt.Errorf("loading score report: %w", err)
	}
	return d, nil
}

// ListSessions returns the caller's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, userID string, limit int) ([]storage.Session, error) {
	return s.sessions.List(ctx, userID, limit)
}

// EndSession closes an evaluated session; see session.Manager.End.
func (s *Service) EndSession(ctx context.Context, userID, sessionID string) (storage.Session, error) {
	_, unlock, err := s.sessions.Acquire(ctx, sessionID, userID)
	if err != nil {
		return storage.Session{}, err
	}
	defer unlock()
	return s.sessions.End(ctx, sessionID, userID)
}

// Profile returns the caller's profile and distance to the next level.
func (s *Service) Profile(ctx context.Context, userID string) (profile.Standing, error) {
	p, err := s.profiles.Resolve(ctx, userID)
	if err != nil {
		return profile.Standing{}, err
	}
	return profile.Summarize(p), nil
}

// RegisterProfile provisions the caller's profile. created is false when it
// already existed.
func (s *Service) RegisterProfile(ctx context.Context, userID, companyID, displayName string) (profile.Standing, bool, error) {
	p, created, err := s.profiles.Ensure(ctx, userID, companyID, displayName)
	if err != nil {
		return profile.Standing{}, false, err
	}
	return profile.Summarize(p), created, nil
}
