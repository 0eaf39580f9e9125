package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"ckbot/internal/registry"
	"ckbot/pkg/logx"
)

const defaultRedisKey = "ckbot:registrations"

// redisStore keeps the same JSON snapshot as the file driver under one key.
// SET replaces the value atomically, so readers never see a partial write.
type redisStore struct {
	rdb *goredis.Client
	key string
	log logx.Logger
	now func() time.Time
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for redis driver")
	}
	opts, err := goredis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	key := strings.TrimSpace(cfg.Path)
	if key == "" {
		key = defaultRedisKey
	}
	log.Info("redis connected", logx.String("key", key))
	return &redisStore{rdb: rdb, key: key, log: log, now: time.Now}, nil
}

func (s *redisStore) Load(ctx context.Context) (registry.State, error) {
	b, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return emptyState(), nil
	}
	if err != nil {
		return emptyState(), fmt.Errorf("redis get %s: %w", s.key, err)
	}

	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		aside := fmt.Sprintf("%s:corrupt-%d", s.key, s.now().Unix())
		if rerr := s.rdb.Rename(ctx, s.key, aside).Err(); rerr != nil {
			s.log.Error("failed to move corrupt snapshot aside", logx.Err(rerr), logx.String("key", s.key))
			aside = ""
		}
		return emptyState(), fmt.Errorf("%w: %s: %v (moved to %s)", ErrCorrupt, s.key, err, aside)
	}
	if snap.Version > snapshotVersion {
		s.log.Warn("snapshot written by a newer version", logx.Int("version", snap.Version))
	}
	return fromSnapshot(snap, s.log), nil
}

func (s *redisStore) Save(ctx context.Context, st registry.State) error {
	b, err := json.Marshal(toSnapshot(st, s.now()))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, b, 0).Err(); err != nil {
		if errors.Is(err, goredis.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

func (s *redisStore) Close() error { return s.rdb.Close() }
