package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ckbot/internal/registry"
	"ckbot/pkg/logx"
)

//go:embed schema_postgres.sql
var postgresSchema string

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, stmt := range strings.Split(postgresSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
	}
	log.Info("database connected", logx.Int("max_conns", int(poolCfg.MaxConns)))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Load(ctx context.Context) (registry.State, error) {
	rs, err := s.pool.Query(ctx, `SELECT slot, position, user_id, name FROM registrations ORDER BY slot, position`)
	if err != nil {
		return emptyState(), fmt.Errorf("%w: query registrations: %v", ErrCorrupt, err)
	}
	rows, err := pgx.CollectRows(rs, func(r pgx.CollectableRow) (row, error) {
		var out row
		var pos int32
		err := r.Scan(&out.Slot, &pos, &out.UserID, &out.Name)
		out.Position = int(pos)
		return out, err
	})
	if err != nil {
		return emptyState(), fmt.Errorf("%w: scan registrations: %v", ErrCorrupt, err)
	}

	as, err := s.pool.Query(ctx, `SELECT user_id, name, date, time, note, created_at FROM adhoc_requests ORDER BY position`)
	if err != nil {
		return emptyState(), fmt.Errorf("%w: query adhoc: %v", ErrCorrupt, err)
	}
	adhoc, err := pgx.CollectRows(as, func(r pgx.CollectableRow) (registry.AdHocRequest, error) {
		var req registry.AdHocRequest
		var created *time.Time
		err := r.Scan(&req.User.ID, &req.User.Name, &req.Date, &req.Time, &req.Note, &created)
		if created != nil {
			req.CreatedAt = *created
		}
		return req, err
	})
	if err != nil {
		return emptyState(), fmt.Errorf("%w: scan adhoc: %v", ErrCorrupt, err)
	}
	return fromRows(rows, adhoc, s.log), nil
}

func (s *postgresStore) Save(ctx context.Context, st registry.State) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM registrations`); err != nil {
			return fmt.Errorf("clear registrations: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM adhoc_requests`); err != nil {
			return fmt.Errorf("clear adhoc: %w", err)
		}

		regs := toRows(st)
		if len(regs) > 0 {
			src := make([][]any, 0, len(regs))
			for _, r := range regs {
				src = append(src, []any{r.Slot, int32(r.Position), r.UserID, r.Name})
			}
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"registrations"},
				[]string{"slot", "position", "user_id", "name"}, pgx.CopyFromRows(src)); err != nil {
				return fmt.Errorf("copy registrations: %w", err)
			}
		}

		if len(st.AdHoc) > 0 {
			src := make([][]any, 0, len(st.AdHoc))
			for i, req := range st.AdHoc {
				src = append(src, []any{int32(i), req.User.ID, req.User.Name, req.Date, req.Time, req.Note, nullTime(req.CreatedAt)})
			}
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"adhoc_requests"},
				[]string{"position", "user_id", "name", "date", "time", "note", "created_at"}, pgx.CopyFromRows(src)); err != nil {
				return fmt.Errorf("copy adhoc: %w", err)
			}
		}
		return nil
	})
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
