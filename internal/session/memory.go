package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store for dev and testing, and the
// fallback when Postgres is unreachable at startup. The single lock gives the
// per-session atomicity AppendCheckIn requires.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Session)}
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneSession(s)
	m.data[s.ID] = &cp
	return nil
}

func (m *MemoryStore) FindActiveTarget(_ context.Context, className, date, endTime string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *Session
	for _, s := range m.data {
		if s.Status == StatusActive && s.ClassName == className && s.Date == date && s.EndTime == endTime {
			if found != nil {
				return nil, nil // ambiguous target
			}
			found = s
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := cloneSession(found)
	return &cp, nil
}

func (m *MemoryStore) AppendCheckIn(_ context.Context, sessionID string, ci CheckIn, isDup func([]CheckIn) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[sessionID]
	if !ok || s.Status != StatusActive {
		return ErrNotActive
	}
	if isDup != nil && isDup(s.CheckIns) {
		return ErrDuplicateEntry
	}
	s.CheckIns = append(s.CheckIns, ci)
	return nil
}

func (m *MemoryStore) Cancel(_ context.Context, ownerID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[sessionID]
	if !ok || s.OwnerID != ownerID || s.Status != StatusActive {
		return ErrNotActive
	}
	s.Status = StatusCancelled
	return nil
}

func (m *MemoryStore) ExpireDue(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.data {
		if s.Status != StatusActive {
			continue
		}
		end, err := s.EndInstant()
		if err != nil {
			continue
		}
		if !end.After(now) {
			s.Status = StatusCompleted
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string, statuses ...Status) ([]Session, error) {
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, s := range m.data {
		if s.OwnerID != ownerID {
			continue
		}
		if len(want) > 0 && !want[s.Status] {
			continue
		}
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, ownerID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[sessionID]
	if !ok || s.OwnerID != ownerID {
		return ErrNotActive
	}
	delete(m.data, sessionID)
	return nil
}

func (m *MemoryStore) DeleteAllByOwner(_ context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, s := range m.data {
		if s.OwnerID == ownerID {
			delete(m.data, id)
			count++
		}
	}
	return count, nil
}

func cloneSession(s *Session) Session {
	cp := *s
	cp.CheckIns = append([]CheckIn(nil), s.CheckIns...)
	return cp
}
