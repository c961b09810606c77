package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"keygate/internal/config"
	"keygate/internal/constants"
	"keygate/internal/logger"
	"keygate/internal/store"
)

type Globals struct {
	Debug    bool
	LogLevel string
	LogFile  bool
	Version  string
}

// logger builds the process logger. With LogFile set, JSON logs are also
// appended to keygate.log in the per-user data directory.
func (g *Globals) logger() (zerolog.Logger, error) {
	if !g.LogFile {
		return logger.Setup(g.Debug, g.LogLevel)
	}
	dir, err := logger.DefaultDir("logs")
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("failed to resolve log directory: %w", err)
	}
	file, err := logger.OpenFile(dir, constants.AppName+".log")
	if err != nil {
		return zerolog.Nop(), err
	}
	return logger.Setup(g.Debug, g.LogLevel, file)
}

// openStore opens the store for the admin commands. Unlike serve, an
// unreachable redis is an error rather than a fallback to the files.
func openStore(ctx context.Context, flags *config.StoreFlags, log zerolog.Logger) (store.Store, error) {
	if err := flags.Validate(); err != nil {
		return nil, err
	}
	opts := flags.Options()
	if opts.Type == store.TypeRedis {
		st, err := store.NewRedisStore(ctx, opts.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Redis.Addr, err)
		}
		return st, nil
	}
	return store.New(ctx, opts, log)
}
