package store

import (
	"context"
	"errors"
)

var (
	ErrUserNotFound = errors.New("license key not found")
	ErrUserExists   = errors.New("license key already exists")
	ErrAlreadyBound = errors.New("license key already bound to another hardware id")
)

// Store is the license record store. Implementations treat the hardware
// id as write-once: BindHWID succeeds on an unbound record or when the
// record is already bound to the same id, and fails with ErrAlreadyBound
// otherwise. Nothing in this interface clears a bound id.
type Store interface {
	LookupUser(ctx context.Context, key string) (UserRecord, error)
	BindHWID(ctx context.Context, key, hwid string) error
	// VersionInfo always returns a usable value; on error it is
	// DefaultVersionInfo.
	VersionInfo(ctx context.Context) (VersionInfo, error)

	ListUsers(ctx context.Context) (map[string]UserRecord, error)
	// AddUser creates a new record and refuses to overwrite an existing one.
	AddUser(ctx context.Context, key string, rec UserRecord) error
	SetVersionInfo(ctx context.Context, v VersionInfo) error

	Close() error
}
