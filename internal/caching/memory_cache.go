package caching

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"fixit/internal/models"

	"github.com/google/uuid"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// memoryCacheService is the single-process fallback used when no Redis address is configured.
type memoryCacheService struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	sessions map[uuid.UUID]map[string]struct{}
	now      func() time.Time
}

func NewMemoryCacheService() CacheService {
	return newMemoryCache(time.Now)
}

func newMemoryCache(now func() time.Time) *memoryCacheService {
	return &memoryCacheService{
		entries:  map[string]memoryEntry{},
		sessions: map[uuid.UUID]map[string]struct{}{},
		now:      now,
	}
}

func (m *memoryCacheService) get(key string) (string, bool) {
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return "", false
	}
	return e.value, true
}

func (m *memoryCacheService) set(key, value string, ttl time.Duration) {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *memoryCacheService) GetPropertyUsers(_ context.Context, userID uuid.UUID) ([]*models.PropertyUser, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.get(propertyUsersKey(userID))
	if !ok {
		return nil, false, nil
	}
	var rows []*models.PropertyUser
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

func (m *memoryCacheService) SetPropertyUsers(_ context.Context, userID uuid.UUID, rows []*models.PropertyUser, ttl time.Duration) error {
	if rows == nil {
		rows = []*models.PropertyUser{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(propertyUsersKey(userID), string(data), ttl)
	return nil
}

func (m *memoryCacheService) InvalidatePropertyUsers(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, propertyUsersKey(userID))
	return nil
}

func (m *memoryCacheService) SetSession(_ context.Context, sessionID string, userID uuid.UUID, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(sessionKey(sessionID), userID.String(), ttl)
	if m.sessions[userID] == nil {
		m.sessions[userID] = map[string]struct{}{}
	}
	m.sessions[userID][sessionID] = struct{}{}
	return nil
}

func (m *memoryCacheService) GetSession(_ context.Context, sessionID string) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.get(sessionKey(sessionID))
	if !ok {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

func (m *memoryCacheService) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if raw, ok := m.get(sessionKey(sessionID)); ok {
		if id, err := uuid.Parse(raw); err == nil {
			delete(m.sessions[id], sessionID)
		}
	}
	delete(m.entries, sessionKey(sessionID))
	return nil
}

func (m *memoryCacheService) RevokeUserSessions(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.sessions[userID] {
		delete(m.entries, sessionKey(id))
	}
	delete(m.sessions, userID)
	return nil
}

func (m *memoryCacheService) IsRateLimited(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cacheKey := rateLimitKey(key)
	e, ok := m.entries[cacheKey]
	if !ok || e.expired(m.now()) {
		e = memoryEntry{value: "0", expiresAt: m.now().Add(window)}
	}
	var count int
	_ = json.Unmarshal([]byte(e.value), &count)
	count++
	data, _ := json.Marshal(count)
	e.value = string(data)
	m.entries[cacheKey] = e
	return count > limit, nil
}

func (m *memoryCacheService) SetString(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(keyPrefix+key, value, ttl)
	return nil
}

func (m *memoryCacheService) GetString(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, _ := m.get(keyPrefix + key)
	return v, nil
}

func (m *memoryCacheService) TakeString(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, _ := m.get(keyPrefix + key)
	delete(m.entries, keyPrefix+key)
	return v, nil
}

func (m *memoryCacheService) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, keyPrefix+key)
	return nil
}

func (m *memoryCacheService) Ping(ctx context.Context) error { return ctx.Err() }

func (m *memoryCacheService) Close() error { return nil }
