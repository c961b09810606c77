package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"keygate/internal/constants"
)

type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// RedisStore keeps every license record as a field of one redis hash and
// the version info as a JSON string key. Binds run under WATCH so a
// concurrent writer forces a retry instead of a lost update.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (st *RedisStore) LookupUser(ctx context.Context, key string) (UserRecord, error) {
	raw, err := st.client.HGet(ctx, constants.RedisUsersKey, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return UserRecord{}, ErrUserNotFound
	}
	if err != nil {
		return UserRecord{}, fmt.Errorf("failed to get user from redis: %w", err)
	}
	return decodeUser(key, raw)
}

func (st *RedisStore) BindHWID(ctx context.Context, key, hwid string) error {
	bind := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, constants.RedisUsersKey, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

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

		fields["hwid"], _ = json.Marshal(hwid)
		updated, err := json.Marshal(fields)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, constants.RedisUsersKey, key, updated)
			return nil
		})
		return err
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := st.client.Watch(ctx, bind, constants.RedisUsersKey)
		if errors.Is(err, redis.TxFailedErr) {
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(bindBackOff()),
		backoff.WithMaxTries(constants.RedisBindRetries),
	)
	return err
}

func bindBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	return b
}

func (st *RedisStore) VersionInfo(ctx context.Context) (VersionInfo, error) {
	raw, err := st.client.Get(ctx, constants.RedisVersionKey).Bytes()
	if err != nil {
		return DefaultVersionInfo(), fmt.Errorf("failed to get version info from redis: %w", err)
	}

	var v VersionInfo
	if err := json.Unmarshal(raw, &v); err != nil {
		return DefaultVersionInfo(), fmt.Errorf("corrupt version info: %w", err)
	}
	return v, nil
}

func (st *RedisStore) ListUsers(ctx context.Context) (map[string]UserRecord, error) {
	all, err := st.client.HGetAll(ctx, constants.RedisUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users from redis: %w", err)
	}

	out := make(map[string]UserRecord, len(all))
	for key, raw := range all {
		rec, err := decodeUser(key, []byte(raw))
		if err != nil {
			return nil, err
		}
		out[key] = rec
	}
	return out, nil
}

func (st *RedisStore) AddUser(ctx context.Context, key string, rec UserRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	created, err := st.client.HSetNX(ctx, constants.RedisUsersKey, key, raw).Result()
	if err != nil {
		return fmt.Errorf("failed to add user to redis: %w", err)
	}
	if !created {
		return ErrUserExists
	}
	return nil
}

func (st *RedisStore) SetVersionInfo(ctx context.Context, v VersionInfo) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return st.client.Set(ctx, constants.RedisVersionKey, raw, 0).Err()
}

func (st *RedisStore) Close() error {
	return st.client.Close()
}
