package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ckbot/internal/registry"
	"ckbot/pkg/logx"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; saves are already serialised by the registry.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Load(ctx context.Context) (registry.State, error) {
	rs, err := s.db.QueryContext(ctx, `SELECT slot, position, user_id, name FROM registrations ORDER BY slot, position`)
	if err != nil {
		return emptyState(), fmt.Errorf("%w: query registrations: %v", ErrCorrupt, err)
	}
	var rows []row
	for rs.Next() {
		var r row
		if err := rs.Scan(&r.Slot, &r.Position, &r.UserID, &r.Name); err != nil {
			_ = rs.Close()
			return emptyState(), fmt.Errorf("%w: scan registration: %v", ErrCorrupt, err)
		}
		rows = append(rows, r)
	}
	if err := rs.Close(); err != nil {
		return emptyState(), err
	}
	if err := rs.Err(); err != nil {
		return emptyState(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	as, err := s.db.QueryContext(ctx, `SELECT user_id, name, date, time, note, created_at FROM adhoc_requests ORDER BY position`)
	if err != nil {
		return emptyState(), fmt.Errorf("%w: query adhoc: %v", ErrCorrupt, err)
	}
	defer as.Close()
	var adhoc []registry.AdHocRequest
	for as.Next() {
		var (
			req     registry.AdHocRequest
			created sql.NullString
		)
		if err := as.Scan(&req.User.ID, &req.User.Name, &req.Date, &req.Time, &req.Note, &created); err != nil {
			return emptyState(), fmt.Errorf("%w: scan adhoc: %v", ErrCorrupt, err)
		}
		if created.Valid {
			if t, err := time.Parse(time.RFC3339Nano, created.String); err == nil {
				req.CreatedAt = t
			}
		}
		adhoc = append(adhoc, req)
	}
	if err := as.Err(); err != nil {
		return emptyState(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return fromRows(rows, adhoc, s.log), nil
}

func (s *sqliteStore) Save(ctx context.Context, st registry.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM registrations`); err != nil {
		return fmt.Errorf("clear registrations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM adhoc_requests`); err != nil {
		return fmt.Errorf("clear adhoc: %w", err)
	}

	ins, err := tx.PrepareContext(ctx, `INSERT INTO registrations(slot, position, user_id, name) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer ins.Close()
	for _, r := range toRows(st) {
		if _, err := ins.ExecContext(ctx, r.Slot, r.Position, r.UserID, r.Name); err != nil {
			return fmt.Errorf("insert registration: %w", err)
		}
	}

	for i, req := range st.AdHoc {
		var created any
		if !req.CreatedAt.IsZero() {
			created = req.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO adhoc_requests(position, user_id, name, date, time, note, created_at) VALUES(?,?,?,?,?,?,?)`,
			i, req.User.ID, req.User.Name, req.Date, req.Time, req.Note, created,
		); err != nil {
			return fmt.Errorf("insert adhoc: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
