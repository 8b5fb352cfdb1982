package session

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/kalambet/salesdojo/internal/storage"
)

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// Lock acquires the mutation lock for sessionID, waiting until it is free or
// ctx is done. The returned func releases it and is safe to call more than
// once. Entries are dropped when no caller holds or waits on them.
func (m *Manager) Lock(ctx context.Context, sessionID string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[sessionID]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		m.locks[sessionID] = e
	}
	e.refs++
	m.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		m.unref(sessionID, e)
		return nil, fmt.Errorf("waiting for session %s: %w", sessionID, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			m.unref(sessionID, e)
		})
	}, nil
}

func (m *Manager) unref(sessionID string, e *lockEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, sessionID)
	}
}

// lockCount reports how many sessions currently have lock entries.
func (m *Manager) lockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Acquire checks that userID owns sessionID, then takes its lock and returns
// the session as loaded under the lock. Callers that do not own the session
// never wait on or hold the owner's lock.
func (m *Manager) Acquire(ctx context.Context, sessionID, userID string) (storage.Session, func(), error) {
	if _, err := m.Load(ctx, sessionID, userID); err != nil {
		return storage.Session{}, nil, err
	}
	unlock, err := m.Lock(ctx, sessionID)
	if err != nil {
		return storage.Session{}, nil, err
	}
	s, err := m.Load(ctx, sessionID, userID)
	if err != nil {
		unlock()
		return storage.Session{}, nil, err
	}
	return s, unlock, nil
}
