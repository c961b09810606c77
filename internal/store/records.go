package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"keygate/internal/constants"
)

// UserRecord is one license entry. The license key itself is the map key
// of the users document and is not repeated inside the record.
type UserRecord struct {
	HWID    string `json:"hwid"`
	ExpTime Expiry `json:"exptime"`
	FreeKey Flag   `json:"freekey"`
}

// Bound reports whether a hardware id has been assigned.
func (u UserRecord) Bound() bool { return u.HWID != "" }

// VersionInfo is the global client version gate.
type VersionInfo struct {
	Version string `json:"version"`
	Enabled Flag   `json:"vdurum"`
}

// DefaultVersionInfo is used whenever the version document cannot be
// read. It is disabled so that a broken document rejects every client.
func DefaultVersionInfo() VersionInfo {
	return VersionInfo{Version: constants.FallbackVersion, Enabled: false}
}

// Flag decodes the JSON literal true or the string "true" as true and
// everything else as false.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "true", `"true"`:
		*f = true
	default:
		*f = false
	}
	return nil
}

// Expiry is a license validity boundary. Valid is false when the stored
// value could not be interpreted; such licenses count as expired.
type Expiry struct {
	Time  time.Time
	Valid bool
}

func NewExpiry(t time.Time) Expiry {
	return Expiry{Time: t, Valid: true}
}

// zoneless layouts are interpreted in local time, date-only in UTC,
// matching how a JavaScript Date parses the same strings.
var (
	zonedLayouts    = []string{time.RFC3339Nano, time.RFC3339}
	zonelessLayouts = []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04", "2006-01-02 15:04:05"}
	dateLayout      = "2006-01-02"
)

// ParseExpiry accepts RFC 3339, zone-less date-times, plain dates and
// epoch milliseconds.
func ParseExpiry(s string) (Expiry, error) {
	s = strings.TrimSpace(s)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewExpiry(t), nil
		}
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return NewExpiry(t), nil
		}
	}
	if t, err := time.ParseInLocation(dateLayout, s, time.UTC); err == nil {
		return NewExpiry(t), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NewExpiry(time.UnixMilli(ms)), nil
	}
	return Expiry{}, fmt.Errorf("unrecognised expiry %q", s)
}

func (e *Expiry) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*e = Expiry{}
	if len(b) == 0 || string(b) == "null" {
		return nil
	}

	var s string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return nil
		}
		s = n.String()
		if f, err := n.Float64(); err == nil && strings.ContainsAny(s, ".eE") {
			s = strconv.FormatInt(int64(f), 10)
		}
	}

	parsed, err := ParseExpiry(s)
	if err != nil {
		return nil
	}
	*e = parsed
	return nil
}

func (e Expiry) MarshalJSON() ([]byte, error) {
	if !e.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(e.Time.UTC().Format(time.RFC3339))
}

// Expired reports whether now is strictly past the boundary. At the exact
// boundary instant the license is still valid.
func (e Expiry) Expired(now time.Time) bool {
	// Fails closed, unlike a JavaScript Date comparison where an invalid date never expires.
	if !e.Valid {
		return true
	}
	return now.After(e.Time)
}
