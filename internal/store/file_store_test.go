package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T, users, version string) *FileStore {
	t.Helper()
	dir := t.TempDir()
	usersPath := filepath.Join(dir, "keys", "users.json")
	versionPath := filepath.Join(dir, "keys", "version.json")

	require.NoError(t, os.MkdirAll(filepath.Dir(usersPath), 0755))
	if users != "" {
		require.NoError(t, os.WriteFile(usersPath, []byte(users), 0644))
	}
	if version != "" {
		require.NoError(t, os.WriteFile(versionPath, []byte(version), 0644))
	}
	return NewFileStore(usersPath, versionPath)
}

func readUsersFile(t *testing.T, st *FileStore) map[string]map[string]any {
	t.Helper()
	data, err := os.ReadFile(st.usersPath)
	require.NoError(t, err)
	out := make(map[string]map[string]any)
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestFileStore_LookupUser(t *testing.T) {
	ctx := context.Background()

	t.Run("existing key", func(t *testing.T) {
		st := newTestFileStore(t, `{"K1":{"hwid":"","exptime":"2030-01-01","freekey":false}}`, "")
		rec, err := st.LookupUser(ctx, "K1")
		require.NoError(t, err)
		require.False(t, rec.Bound())
		require.True(t, rec.ExpTime.Valid)
	})

	t.Run("missing key", func(t *testing.T) {
		st := newTestFileStore(t, `{"K1":{"hwid":""}}`, "")
		_, err := st.LookupUser(ctx, "nope")
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("missing file is an empty store", func(t *testing.T) {
		st := newTestFileStore(t, "", "")
		_, err := st.LookupUser(ctx, "K1")
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("corrupt file is an error", func(t *testing.T) {
		st := newTestFileStore(t, `{"K1": {`, "")
		_, err := st.LookupUser(ctx, "K1")
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("comments and trailing commas are tolerated", func(t *testing.T) {
		st := newTestFileStore(t, `{
			// issued 2026-10-01
			"K1": {"hwid": "abc", "exptime": "2030-01-01",},
		}`, "")
		rec, err := st.LookupUser(ctx, "K1")
		require.NoError(t, err)
		require.Equal(t, "abc", rec.HWID)
	})

	t.Run("re-reads the file on every call", func(t *testing.T) {
		st := newTestFileStore(t, `{}`, "")
		_, err := st.LookupUser(ctx, "K1")
		require.ErrorIs(t, err, ErrUserNotFound)

		require.NoError(t, os.WriteFile(st.usersPath, []byte(`{"K1":{"hwid":""}}`), 0644))
		_, err = st.LookupUser(ctx, "K1")
		require.NoError(t, err)
	})
}

func TestFileStore_BindHWID(t *testing.T) {
	ctx := context.Background()

	t.Run("binds an unbound record and persists it", func(t *testing.T) {
		st := newTestFileStore(t, `{"K1":{"hwid":"","exptime":"2030-01-01","freekey":"true","note":"keep me"}}`, "")

		require.NoError(t, st.BindHWID(ctx, "K1", "hw-A"))

		rec, err := st.LookupUser(ctx, "K1")
		require.NoError(t, err)
		require.Equal(t, "hw-A", rec.HWID)

		raw := readUsersFile(t, st)
		require.Equal(t, "keep me", raw["K1"]["note"], "unknown fields survive")
		require.Equal(t, "true", raw["K1"]["freekey"])
		require.Equal(t, "2030-01-01", raw["K1"]["exptime"])
	})

	t.Run("same hwid again is a no-op", func(t *testing.T) {
		st := newTestFileStore(t, `{"K1":{"hwid":"hw-A"}}`, "")
		require.NoError(t, st.BindHWID(ctx, "K1", "hw-A"))
	})

	t.Run("different hwid on a bound record is refused", func(t *testing.T) {
		st := newTestFileStore(t, `{"K1":{"hwid":""}}`, "")
		require.NoError(t, st.BindHWID(ctx, "K1", "hw-A"))
		require.ErrorIs(t, st.BindHWID(ctx, "K1", "hw-B"), ErrAlreadyBound)

		rec, err := st.LookupUser(ctx, "K1")
		require.NoError(t, err)
		require.Equal(t, "hw-A", rec.HWID)
	})

	t.Run("unknown key", func(t *testing.T) {
		st := newTestFileStore(t, `{}`, "")
		require.ErrorIs(t, st.BindHWID(ctx, "K1", "hw-A"), ErrUserNotFound)
	})

	t.Run("unreadable document", func(t *testing.T) {
		st := newTestFileStore(t, `not json`, "")
		err := st.BindHWID(ctx, "K1", "hw-A")
		require.Error(t, err)
	})

	t.Run("concurrent binds to different keys are all kept", func(t *testing.T) {
		users := make(map[string]map[string]string)
		for i := 0; i < 20; i++ {
			users[fmt.Sprintf("K%d", i)] = map[string]string{"hwid": ""}
		}
		doc, err := json.Marshal(users)
		require.NoError(t, err)
		st := newTestFileStore(t, string(doc), "")

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, st.BindHWID(ctx, fmt.Sprintf("K%d", i), fmt.Sprintf("hw-%d", i)))
			}(i)
		}
		wg.Wait()

		all, err := st.ListUsers(ctx)
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			require.Equal(t, fmt.Sprintf("hw-%d", i), all[fmt.Sprintf("K%d", i)].HWID)
		}
	})

	t.Run("racing binds to one key bind exactly once", func(t *testing.T) {
		st := newTestFileStore(t, `{"K1":{"hwid":""}}`, "")

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			won     int
			refused int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := st.BindHWID(ctx, "K1", fmt.Sprintf("hw-%d", i))
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					won++
				} else {
					assert.ErrorIs(t, err, ErrAlreadyBound)
					refused++
				}
			}(i)
		}
		wg.Wait()

		require.Equal(t, 1, won)
		require.Equal(t, 9, refused)
	})
}

func TestFileStore_VersionInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("reads the document", func(t *testing.T) {
		st := newTestFileStore(t, "", `{"version":"1.2.3","vdurum":true}`)
		v, err := st.VersionInfo(ctx)
		require.NoError(t, err)
		require.Equal(t, "1.2.3", v.Version)
		require.True(t, bool(v.Enabled))
	})

	t.Run("missing document defaults to disabled", func(t *testing.T) {
		st := newTestFileStore(t, "", "")
		v, err := st.VersionInfo(ctx)
		require.Error(t, err)
		require.Equal(t, DefaultVersionInfo(), v)
	})

	t.Run("corrupt document defaults to disabled", func(t *testing.T) {
		st := newTestFileStore(t, "", `{"version":`)
		v, err := st.VersionInfo(ctx)
		require.Error(t, err)
		require.False(t, bool(v.Enabled))
	})
}

func TestFileStore_AddUser(t *testing.T) {
	ctx := context.Background()
	st := newTestFileStore(t, "", "")

	exp := NewExpiry(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, st.AddUser(ctx, "K1", UserRecord{ExpTime: exp}))
	require.ErrorIs(t, st.AddUser(ctx, "K1", UserRecord{HWID: "x"}), ErrUserExists)

	rec, err := st.LookupUser(ctx, "K1")
	require.NoError(t, err)
	require.False(t, rec.Bound())
	require.True(t, rec.ExpTime.Time.Equal(exp.Time))
}

func TestFileStore_SetVersionInfo(t *testing.T) {
	ctx := context.Background()
	st := newTestFileStore(t, "", "")

	require.NoError(t, st.SetVersionInfo(ctx, VersionInfo{Version: "2.0", Enabled: true}))

	v, err := st.VersionInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, "2.0", v.Version)
	require.True(t, bool(v.Enabled))
}
