package store

import (
	"context"
	"sync"
)

// MemoryStore holds records in process memory. Nothing is persisted.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]UserRecord
	version VersionInfo
}

func NewMemoryStore(users map[string]UserRecord, version VersionInfo) *MemoryStore {
	st := &MemoryStore{
		users:   make(map[string]UserRecord, len(users)),
		version: version,
	}
	for k, v := range users {
		st.users[k] = v
	}
	return st
}

func (st *MemoryStore) LookupUser(ctx context.Context, key string) (UserRecord, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	rec, ok := st.users[key]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return rec, nil
}

func (st *MemoryStore) BindHWID(ctx context.Context, key, hwid string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.users[key]
	if !ok {
		return ErrUserNotFound
	}
	if rec.HWID != "" {
		if rec.HWID == hwid {
			return nil
		}
		return ErrAlreadyBound
	}
	rec.HWID = hwid
	st.users[key] = rec
	return nil
}

func (st *MemoryStore) VersionInfo(ctx context.Context) (VersionInfo, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.version, nil
}

func (st *MemoryStore) ListUsers(ctx context.Context) (map[string]UserRecord, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make(map[string]UserRecord, len(st.users))
	for k, v := range st.users {
		out[k] = v
	}
	return out, nil
}

func (st *MemoryStore) AddUser(ctx context.Context, key string, rec UserRecord) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.users[key]; ok {
		return ErrUserExists
	}
	st.users[key] = rec
	return nil
}

func (st *MemoryStore) SetVersionInfo(ctx context.Context, v VersionInfo) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.version = v
	return nil
}

func (st *MemoryStore) Close() error {
	return nil
}
