package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

const (
	TypeFile  = "file"
	TypeRedis = "redis"
)

type Options struct {
	Type        string
	UsersFile   string
	VersionFile string
	Redis       RedisOptions
}

// New opens the configured store. A redis store that cannot be reached
// falls back to the file store rather than failing startup.
func New(ctx context.Context, opts Options, log zerolog.Logger) (Store, error) {
	switch opts.Type {
	case TypeRedis:
		st, err := NewRedisStore(ctx, opts.Redis)
		if err != nil {
			log.Warn().Err(err).Str("addr", opts.Redis.Addr).Msg("redis connection failed, falling back to file store")
			return newFileStore(opts, log), nil
		}
		log.Info().Str("addr", opts.Redis.Addr).Msg("using redis record store")
		return st, nil
	case TypeFile, "":
		return newFileStore(opts, log), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", opts.Type)
	}
}

func newFileStore(opts Options, log zerolog.Logger) *FileStore {
	log.Info().
		Str("users", opts.UsersFile).
		Str("version", opts.VersionFile).
		Msg("using file record store")
	return NewFileStore(opts.UsersFile, opts.VersionFile)
}
