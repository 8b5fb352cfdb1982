package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/salesdojo/internal/apperr"
	"github.com/kalambet/salesdojo/internal/storage"
)

// --- Mock store ---

type mockStore struct {
	mu       sync.Mutex
	profiles map[string]storage.Profile

	getCalls int
}

func newMockStore() *mockStore {
	return &mockStore{profiles: make(map[string]storage.Profile)}
}

func (m *mockStore) GetProfile(_ context.Context, userID string) (storage.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	p, ok := m.profiles[userID]
	if !ok {
		return storage.Profile{}, storage.ErrNotFound
	}
	return p, nil
}

func (m *mockStore) EnsureProfile(_ context.Context, p storage.Profile) (storage.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[p.UserID]; ok {
		return existing, false, nil
	}
	m.profiles[p.UserID] = p
	return p, true, nil
}

func (m *mockStore) set(p storage.Profile) {
	m.mu.Lock()
	m.profiles[p.UserID] = p
	m.mu.Unlock()
}

func (m *mockStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

var ctx = context.Background()

func TestResolve_NotFound(t *testing.T) {
	mgr := NewManager(newMockStore())

	_, err := mgr.Resolve(ctx, "ghost")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Resolve error = %v, want ErrNotFound", err)
	}
}

func TestResolve_EmptyUser(t *testing.T) {
	mgr := NewManager(newMockStore())

	_, err := mgr.Resolve(ctx, "")
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("Resolve error = %v, want ErrInvalidArgument", err)
	}
}

func TestCacheTTL(t *testing.T) {
	store := newMockStore()
	store.set(storage.Profile{UserID: "u1", CompanyID: "acme", DisplayName: "Ana", Level: 1})
	clock := &mockClock{now: time.Now()}
	mgr := NewManagerWithClock(store, clock, 60*time.Second)

	mgr.Resolve(ctx, "u1")
	mgr.Resolve(ctx, "u1")

	if calls := store.calls(); calls != 1 {
		t.Errorf("expected 1 store call (cache hit on second), got %d", calls)
	}
}

func TestCacheExpiry(t *testing.T) {
	store := newMockStore()
	store.set(storage.Profile{UserID: "u1", CompanyID: "acme", DisplayName: "Ana", Level: 1})
	clock := &mockClock{now: time.Now()}
	ttl := 60 * time.Second
	mgr := NewManagerWithClock(store, clock, ttl)

	mgr.Resolve(ctx, "u1")
	clock.Advance(ttl + time.Second)
	mgr.Resolve(ctx, "u1")

	if calls := store.calls(); calls != 2 {
		t.Errorf("expected 2 store calls (cache expired), got %d", calls)
	}
}

func TestInvalidate(t *testing.T) {
	store := newMockStore()
	store.set(storage.Profile{UserID: "u1", CompanyID: "acme", DisplayName: "Ana", TotalXP: 0, Level: 1})
	mgr := NewManager(store)

	mgr.Resolve(ctx, "u1")
	store.set(storage.Profile{UserID: "u1", CompanyID: "acme", DisplayName: "Ana", TotalXP: 120, Level: 2})

	p, _ := mgr.Resolve(ctx, "u1")
	if p.TotalXP != 0 {
		t.Fatalf("TotalXP = %d before invalidation, want cached 0", p.TotalXP)
	}

	mgr.Invalidate("u1")
	p, err := mgr.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.TotalXP != 120 || p.Level != 2 {
		t.Errorf("profile = %+v, want refreshed totals", p)
	}
}

func TestEnsure_CreatesOnce(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)

	p, created, err := mgr.Ensure(ctx, "u1", "acme", "Ana")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Error("created = false on first Ensure")
	}
	if p.Level != 1 || p.TotalXP != 0 || p.CompanyID != "acme" {
		t.Errorf("profile = %+v, want level 1 / 0 XP in acme", p)
	}

	_, created, err = mgr.Ensure(ctx, "u1", "acme", "Ana Renamed")
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if created {
		t.Error("created = true on second Ensure")
	}
}

func TestEnsure_OtherCompanyConflicts(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)

	if _, _, err := mgr.Ensure(ctx, "u1", "acme", "Ana"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	_, _, err := mgr.Ensure(ctx, "u1", "globex", "Ana")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Ensure error = %v, want ErrConflict", err)
	}
}

func TestEnsure_Validation(t *testing.T) {
	mgr := NewManager(newMockStore())
	tests := []struct{ user, company, name string }{
		{"", "acme", "Ana"},
		{"u1", " ", "Ana"},
		{"u1", "acme", ""},
	}
	for _, tt := range tests {
		_, _, err := mgr.Ensure(ctx, tt.user, tt.company, tt.name)
		if !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Errorf("Ensure(%q,%q,%q) error = %v, want ErrInvalidArgument", tt.user, tt.company, tt.name, err)
		}
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(storage.Profile{TotalXP: 120, Level: 2})
	if s.NextLevel != 3 || s.NextLevelXP != 250 || s.XPToNextLevel != 130 || s.MaxLevel {
		t.Errorf("Summarize(120) = %+v", s)
	}

	top := Summarize(storage.Profile{TotalXP: 5000, Level: 10})
	if !top.MaxLevel || top.XPToNextLevel != 0 {
		t.Errorf("Summarize(5000) = %+v, want max level", top)
	}
}

func TestResolve_Concurrent(t *testing.T) {
	store := newMockStore()
	store.set(storage.Profile{UserID: "u1", CompanyID: "acme", DisplayName: "Ana", Level: 1})
	mgr := NewManager(store)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.Resolve(ctx, "u1"); err != nil {
				t.Errorf("Resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls := store.calls(); calls != 1 {
		t.Errorf("store calls = %d, want 1", calls)
	}
}
