// Package profile resolves a user id to the caller's profile: tenant,
// display name and progression totals.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/salesdojo/internal/apperr"
	"github.com/kalambet/salesdojo/internal/progression"
	"github.com/kalambet/salesdojo/internal/storage"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (storage.Profile, error)
	EnsureProfile(ctx context.Context, p storage.Profile) (storage.Profile, bool, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

const defaultTTL = 30 * time.Second

type cacheEntry struct {
	profile  storage.Profile
	cachedAt time.Time
}

// Manager provides cached access to profiles. XP and level only change
// through evaluation, which calls Invalidate after committing.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with a 30-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, defaultTTL)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

func (m *Manager) fresh(e cacheEntry, ok bool) bool {
	return ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl))
}

// Resolve returns the profile for userID, or an apperr.ErrNotFound error when
// the user has none.
func (m *Manager) Resolve(ctx context.Context, userID string) (storage.Profile, error) {
	if userID == "" {
		return storage.Profile{}, apperr.Invalid("user id is required")
	}

	// Fast path: read lock for cache hit.
	m.mu.RLock()
	e, ok := m.cache[userID]
	if m.fresh(e, ok) {
		m.mu.RUnlock()
		return e.profile, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.cache[userID]; m.fresh(e, ok) {
		return e.profile, nil
	}

	p, err := m.store.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Profile{}, apperr.NotFound("no profile for user %q", userID)
	}
	if err != nil {
		return storage.Profile{}, fmt.Errorf("loading profile %s: %w", userID, err)
	}

	m.cache[userID] = cacheEntry{profile: p, cachedAt: m.clock.Now()}
	return p, nil
}

// Ensure returns the profile for userID, creating a level-1 profile in
// companyID when none exists. An existing profile is never modified; if it
// belongs to a different company the call fails with apperr.ErrConflict.
func (m *Manager) Ensure(ctx context.Context, userID, companyID, displayName string) (storage.Profile, bool, error) {
	userID = strings.TrimSpace(userID)
	companyID = strings.TrimSpace(companyID)
	displayName = strings.TrimSpace(displayName)
	switch {
	case userID == "":
		return storage.Profile{}, false, apperr.Invalid("user id is required")
	case companyID == "":
		return storage.Profile{}, false, apperr.Invalid("company_id is required")
	case displayName == "":
		return storage.Profile{}, false, apperr.Invalid("display_name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, created, err := m.store.EnsureProfile(ctx, storage.Profile{
		UserID:      userID,
		CompanyID:   companyID,
		DisplayName: displayName,
		Level:       progression.LevelFromXP(0),
	})
	if err != nil {
		return storage.Profile{}, false, fmt.Errorf("provisioning profile %s: %w", userID, err)
	}
	m.cache[userID] = cacheEntry{profile: p, cachedAt: m.clock.Now()}

	if p.CompanyID != companyID {
		return p, false, fmt.Errorf("%w: user %q already belongs to another company", apperr.ErrConflict, userID)
	}
	return p, created, nil
}

// Invalidate drops the cached profile for userID.
func (m *Manager) Invalidate(userID string) {
	m.mu.Lock()
	delete(m.cache, userID)
	m.mu.Unlock()
}

// Standing is a profile plus the distance to the next level.
type Standing struct {
	storage.Profile
	NextLevel     int  `json:"next_level,omitempty"`
	NextLevelXP   int  `json:"next_level_xp,omitempty"`
	XPToNextLevel int  `json:"xp_to_next_level"`
	MaxLevel      bool `json:"max_level"`
}

// Summarize computes the Standing of p.
func Summarize(p storage.Profile) Standing {
	s := Standing{Profile: p}
	next, ok := progression.NextThreshold(p.TotalXP)
	if !ok {
		s.MaxLevel = true
		return s
	}
	s.NextLevel = next.Level
	s.NextLevelXP = next.XP
	s.XPToNextLevel = next.XP - p.TotalXP
	return s
}
