package license

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mind-engage/certprep-core/internal/apperr"
)

// Store persists entitlements and their access history.
type Store interface {
	Create(ctx context.Context, e Entitlement) (Entitlement, error)
	Get(ctx context.Context, id string) (Entitlement, error)
	// ForUserExam returns the governing entitlement for the pair: the one
	// with the latest expiry.
	ForUserExam(ctx context.Context, userID string, examID int64) (Entitlement, error)
	// Apply loads the entitlement with exclusive access, calls fn and
	// persists the returned entitlement and event atomically. Nothing is
	// written when fn fails.
	Apply(ctx context.Context, id string, fn func(cur Entitlement) (Entitlement, AccessEvent, error)) (Entitlement, error)
	Events(ctx context.Context, entitlementID string) ([]AccessEvent, error)
	// ListLocked returns locked entitlements with lockedAt at or before the cutoff.
	ListLocked(ctx context.Context, lockedBefore time.Time) ([]Entitlement, error)
}

type memoryStore struct {
	mu     sync.Mutex
	ents   map[string]Entitlement
	events map[string][]AccessEvent
}

func NewInMemoryStore() Store {
	return &memoryStore{
		ents:   map[string]Entitlement{},
		events: map[string][]AccessEvent{},
	}
}

func (m *memoryStore) Create(_ context.Context, e Entitlement) (Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ents[e.ID]; ok {
		return Entitlement{}, fmt.Errorf("entitlement %s already exists: %w", e.ID, apperr.ErrInvalidInput)
	}
	m.ents[e.ID] = e
	return e, nil
}

func (m *memoryStore) Get(_ context.Context, id string) (Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.ents[id]
	if !ok {
		return Entitlement{}, fmt.Errorf("entitlement %s: %w", id, apperr.ErrNotFound)
	}
	return e, nil
}

func (m *memoryStore) ForUserExam(_ context.Context, userID string, examID int64) (Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Entitlement
	for _, e := range m.ents {
		if e.UserID != userID || e.ExamID != examID {
			continue
		}
		if best == nil || e.ExpiresAt.After(best.ExpiresAt) ||
			(e.ExpiresAt.Equal(best.ExpiresAt) && e.CreatedAt.After(best.CreatedAt)) {
			e := e
			best = &e
		}
	}
	if best == nil {
		return Entitlement{}, fmt.Errorf("entitlement for user %s exam %d: %w", userID, examID, apperr.ErrNotFound)
	}
	return *best, nil
}

func (m *memoryStore) Apply(_ context.Context, id string, fn func(cur Entitlement) (Entitlement, AccessEvent, error)) (Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.ents[id]
	if !ok {
		return Entitlement{}, fmt.Errorf("entitlement %s: %w", id, apperr.ErrNotFound)
	}
	next, ev, err := fn(cur)
	if err != nil {
		return Entitlement{}, err
	}
	m.ents[id] = next
	m.events[id] = append(m.events[id], ev)
	return next, nil
}

func (m *memoryStore) Events(_ context.Context, entitlementID string) ([]AccessEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ents[entitlementID]; !ok {
		return nil, fmt.Errorf("entitlement %s: %w", entitlementID, apperr.ErrNotFound)
	}
	out := make([]AccessEvent, len(m.events[entitlementID]))
	copy(out, m.events[entitlementID])
	return out, nil
}

func (m *memoryStore) ListLocked(_ context.Context, lockedBefore time.Time) ([]Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entitlement
	for _, e := range m.ents {
		if e.Status == StatusLocked && e.LockedAt != nil && !e.LockedAt.After(lockedBefore) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LockedAt.Before(*out[j].LockedAt) })
	return out, nil
}
