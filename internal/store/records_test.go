package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`true`, true},
		{`"true"`, true},
		{`false`, false},
		{`"false"`, false},
		{`"TRUE"`, false},
		{`1`, false},
		{`null`, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var f Flag
			require.NoError(t, json.Unmarshal([]byte(tt.in), &f))
			assert.Equal(t, tt.want, bool(f))
		})
	}
}

func TestParseExpiry(t *testing.T) {
	t.Run("rfc3339", func(t *testing.T) {
		e, err := ParseExpiry("2030-01-02T03:04:05Z")
		require.NoError(t, err)
		require.True(t, e.Valid)
		require.True(t, e.Time.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)))
	})

	t.Run("date only is utc midnight", func(t *testing.T) {
		e, err := ParseExpiry("2030-01-02")
		require.NoError(t, err)
		require.True(t, e.Time.Equal(time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("zoneless date time is local", func(t *testing.T) {
		e, err := ParseExpiry("2030-01-02T10:00:00")
		require.NoError(t, err)
		require.True(t, e.Time.Equal(time.Date(2030, 1, 2, 10, 0, 0, 0, time.Local)))
	})

	t.Run("epoch milliseconds", func(t *testing.T) {
		e, err := ParseExpiry("1893456000000")
		require.NoError(t, err)
		require.True(t, e.Time.Equal(time.UnixMilli(1893456000000)))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseExpiry("next tuesday")
		require.Error(t, err)
	})
}

func TestExpiryUnmarshal(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		var e Expiry
		require.NoError(t, json.Unmarshal([]byte(`"2030-01-02"`), &e))
		require.True(t, e.Valid)
	})

	t.Run("number", func(t *testing.T) {
		var e Expiry
		require.NoError(t, json.Unmarshal([]byte(`1893456000000`), &e))
		require.True(t, e.Valid)
		require.Equal(t, int64(1893456000000), e.Time.UnixMilli())
	})

	t.Run("invalid values decode as not valid", func(t *testing.T) {
		for _, in := range []string{`"soon"`, `null`, `{}`, `[]`} {
			var e Expiry
			require.NoError(t, json.Unmarshal([]byte(in), &e), in)
			require.False(t, e.Valid, in)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		want := NewExpiry(time.Date(2031, 5, 6, 7, 8, 9, 0, time.UTC))
		b, err := json.Marshal(want)
		require.NoError(t, err)
		require.Equal(t, `"2031-05-06T07:08:09Z"`, string(b))

		var got Expiry
		require.NoError(t, json.Unmarshal(b, &got))
		require.True(t, got.Time.Equal(want.Time))
	})
}

func TestExpiryBoundary(t *testing.T) {
	boundary := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	e := NewExpiry(boundary)

	require.False(t, e.Expired(boundary.Add(-time.Nanosecond)), "before boundary")
	require.False(t, e.Expired(boundary), "exactly at boundary is still valid")
	require.True(t, e.Expired(boundary.Add(time.Nanosecond)), "after boundary")

	require.True(t, Expiry{}.Expired(boundary), "unparseable expiry counts as expired")
}

func TestUserRecordDecode(t *testing.T) {
	var rec UserRecord
	err := json.Unmarshal([]byte(`{"hwid":"","exptime":"2030-01-01","freekey":"true","note":"x"}`), &rec)
	require.NoError(t, err)
	require.False(t, rec.Bound())
	require.True(t, bool(rec.FreeKey))
	require.True(t, rec.ExpTime.Valid)
}

func TestDefaultVersionInfo(t *testing.T) {
	v := DefaultVersionInfo()
	require.False(t, bool(v.Enabled))
	require.Equal(t, "0", v.Version)
}
