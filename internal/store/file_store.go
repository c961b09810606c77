package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/jsonc"
)

// FileStore keeps the users and version documents as JSON files. Both are
// re-read on every call so out-of-band edits take effect immediately.
// Comments and trailing commas in hand-edited files are tolerated; they
// are not preserved when the users document is rewritten.
//
// Writes are serialized by a process-wide mutex and BindHWID re-checks the
// record under it, so concurrent binds never lose each other's updates.
type FileStore struct {
	usersPath   string
	versionPath string
	mu          sync.Mutex
}

func NewFileStore(usersPath, versionPath string) *FileStore {
	return &FileStore{
		usersPath:   usersPath,
		versionPath: versionPath,
	}
}

func readDocument(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonc.ToJSON(data), v)
}

func writeDocument(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// loadUsers returns the raw records keyed by license key. A missing file
// is an empty document.
func (s *FileStore) loadUsers() (map[string]json.RawMessage, error) {
	users := make(map[string]json.RawMessage)
	if err := readDocument(s.usersPath, &users); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return users, nil
}

func decodeUser(key string, raw json.RawMessage) (UserRecord, error) {
	var rec UserRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return UserRecord{}, fmt.Errorf("corrupt record for %q: %w", key, err)
	}
	return rec, nil
}

func (s *FileStore) LookupUser(ctx context.Context, key string) (UserRecord, error) {
	users, err := s.loadUsers()
	if err != nil {
		return UserRecord{}, err
	}
	raw, ok := users[key]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return decodeUser(key, raw)
}

func (s *FileStore) BindHWID(ctx context.Context, key, hwid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return err
	}
	raw, ok := users[key]
	if !ok {
		return ErrUserNotFound
	}

	// Work on the raw fields so unknown record fields survive the rewrite.
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("corrupt record for %q: %w", key, err)
	}

	var current string
	if b, ok := fields["hwid"]; ok {
		if err := json.Unmarshal(b, &current); err != nil {
			return fmt.Errorf("corrupt hwid for %q: %w", key, err)
		}
	}
	if current != "" {
		if current == hwid {
			return nil
		}
		return ErrAlreadyBound
	}

	encoded, err := json.Marshal(hwid)
	if err != nil {
		return err
	}
	fields["hwid"] = encoded

	updated, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	users[key] = updated

	return writeDocument(s.usersPath, users)
}

func (s *FileStore) VersionInfo(ctx context.Context) (VersionInfo, error) {
	var v VersionInfo
	if err := readDocument(s.versionPath, &v); err != nil {
		return DefaultVersionInfo(), fmt.Errorf("failed to load version info: %w", err)
	}
	return v, nil
}

func (s *FileStore) ListUsers(ctx context.Context) (map[string]UserRecord, error) {
	users, err := s.loadUsers()
	if err != nil {
		return nil, err
	}

	out := make(map[string]UserRecord, len(users))
	for key, raw := range users {
		rec, err := decodeUser(key, raw)
		if err != nil {
			return nil, err
		}
		out[key] = rec
	}
	return out, nil
}

func (s *FileStore) AddUser(ctx context.Context, key string, rec UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return err
	}
	if _, ok := users[key]; ok {
		return ErrUserExists
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	users[key] = raw
	return writeDocument(s.usersPath, users)
}

func (s *FileStore) SetVersionInfo(ctx context.Context, v VersionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeDocument(s.versionPath, v)
}

func (s *FileStore) Close() error {
	return nil
}
