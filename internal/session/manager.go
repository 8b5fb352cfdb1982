// Package session owns the training session lifecycle: creation bound to the
// caller's tenant, authorized loads, idempotent close and per-session
// mutual exclusion.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/salesdojo/internal/apperr"
	"github.com/kalambet/salesdojo/internal/progression"
	"github.com/kalambet/salesdojo/internal/roleplay"
	"github.com/kalambet/salesdojo/internal/storage"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	CreateSession(ctx context.Context, s storage.Session) error
	GetSession(ctx context.Context, id string) (storage.Session, error)
	ListSessions(ctx context.Context, companyID, userID string, limit int) ([]storage.Session, error)
	EndSession(ctx context.Context, id string, at time.Time) (bool, error)
	ListMessages(ctx context.Context, sessionID string) ([]storage.Message, error)
	GetScoreReport(ctx context.Context, sessionID string) (storage.ScoreReport, error)
}

// Profiles resolves and provisions caller profiles.
// Implemented by profile.Manager.
type Profiles interface {
	Resolve(ctx context.Context, userID string) (storage.Profile, error)
	Ensure(ctx context.Context, userID, companyID, displayName string) (storage.Profile, bool, error)
}

// StartOptions carries the optional parts of a start request.
type StartOptions struct {
	// Persona and DifficultyLabel pin the prospect; empty values are picked
	// from the catalog.
	Persona         string
	DifficultyLabel string
	// CompanyID and DisplayName provision a profile for a first-time user.
	CompanyID   string
	DisplayName string
}

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Selector roleplay.Selector
	Now      func() time.Time
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Manager creates, loads and closes sessions.
type Manager struct {
	store    Store
	profiles Profiles
	catalog  *roleplay.Catalog
	selector roleplay.Selector
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewManager creates a Manager. A nil catalog selects roleplay.DefaultCatalog.
func NewManager(store Store, profiles Profiles, catalog *roleplay.Catalog, opts Options) *Manager {
	if catalog == nil {
		catalog = roleplay.DefaultCatalog()
	}
	m := &Manager{
		store:    store,
		profiles: profiles,
		catalog:  catalog,
		selector: opts.Selector,
		now:      opts.Now,
		locks:    make(map[string]*lockEntry),
	}
	if m.selector == nil {
		m.selector = roleplay.RandomSelector
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Start creates a session for userID in the caller's company. A user without
// a profile gets one when opts carries both CompanyID and DisplayName;
// otherwise the call fails with apperr.ErrNotFound.
func (m *Manager) Start(ctx context.Context, userID, industry string, difficulty int, opts StartOptions) (storage.Session, error) {
	if _, ok := m.catalog.Industry(industry); !ok {
		return storage.Session{}, apperr.Invalid("unknown industry %q (want one of %s)", industry, strings.Join(m.catalog.IndustryKeys(), ", "))
	}
	if !progression.ValidDifficulty(difficulty) {
		return storage.Session{}, apperr.Invalid("difficulty %d out of range %d..%d", difficulty, progression.MinDifficulty, progression.MaxDifficulty)
	}

	caller, err := m.profiles.Resolve(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) && opts.CompanyID != "" && opts.DisplayName != "" {
		caller, _, err = m.profiles.Ensure(ctx, userID, opts.CompanyID, opts.DisplayName)
		if err == nil {
			slog.Info("profile provisioned", "user_id", userID, "company_id", caller.CompanyID)
		}
	}
	if err != nil {
		return storage.Session{}, err
	}

	persona := strings.TrimSpace(opts.Persona)
	if persona == "" {
		persona = m.catalog.PickPersona(m.selector)
	}
	label := strings.TrimSpace(opts.DifficultyLabel)
	if label == "" {
		label = m.catalog.PickDifficulty(m.selector)
	}

	s := storage.Session{
		ID:              uuid.NewString(),
		UserID:          caller.UserID,
		CompanyID:       caller.CompanyID,
		Industry:        industry,
		Difficulty:      difficulty,
		Persona:         persona,
		DifficultyLabel: label,
		CreatedAt:       m.now().UTC(),
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return storage.Session{}, fmt.Errorf("creating session: %w", err)
	}

	slog.Info("session started", "session_id", s.ID, "user_id", s.UserID, "company_id", s.CompanyID, "industry", industry, "difficulty", difficulty)
	return s, nil
}

// Load returns the session if it belongs to userID and the caller's company.
// A session owned by anyone else yields apperr.ErrForbidden and a warning
// log; a missing session yields apperr.ErrNotFound.
func (m *Manager) Load(ctx context.Context, sessionID, userID string) (storage.Session, error) {
	if sessionID == "" {
		return storage.Session{}, apperr.Invalid("session id is required")
	}
	caller, err := m.profiles.Resolve(ctx, userID)
	if err != nil {
		return storage.Session{}, err
	}

	s, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, apperr.NotFound("session %q", sessionID)
	}
	if err != nil {
		return storage.Session{}, fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	if s.CompanyID != caller.CompanyID || s.UserID != caller.UserID {
		slog.Warn("session access denied",
			"event", "tenant_mismatch",
			"session_id", sessionID,
			"caller_user_id", caller.UserID,
			"caller_company_id", caller.CompanyID,
			"owner_user_id", s.UserID,
			"owner_company_id", s.CompanyID,
		)
		return storage.Session{}, fmt.Errorf("%w: session %q does not belong to the caller", apperr.ErrForbidden, sessionID)
	}
	return s, nil
}

// End closes the caller's session. Closing an ended session is a no-op and
// never changes ended_at. A session without a recorded evaluation cannot be
// closed: grading is what ends a session.
func (m *Manager) End(ctx context.Context, sessionID, userID string) (storage.Session, error) {
	s, err := m.Load(ctx, sessionID, userID)
	if err != nil {
		return storage.Session{}, err
	}
	if s.Ended() {
		return s, nil
	}

	report, err := m.store.GetScoreReport(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, apperr.Invalid("session %q has not been graded yet", sessionID)
	}
	if err != nil {
		return storage.Session{}, fmt.Errorf("loading score report: %w", err)
	}

	if _, err := m.store.EndSession(ctx, sessionID, report.CreatedAt); err != nil {
		return storage.Session{}, fmt.Errorf("ending session %s: %w", sessionID, err)
	}
	return m.store.GetSession(ctx, sessionID)
}

// List returns the caller's sessions, newest first.
func (m *Manager) List(ctx context.Context, userID string, limit int) ([]storage.Session, error) {
	caller, err := m.profiles.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	sessions, err := m.store.ListSessions(ctx, caller.CompanyID, caller.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// Transcript returns the messages of an already authorized session in
// sequence order.
func (m *Manager) Transcript(ctx context.Context, s storage.Session) ([]storage.Message, error) {
	msgs, err := m.store.ListMessages(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("loading transcript for %s: %w", s.ID, err)
	}
	return msgs, nil
}
