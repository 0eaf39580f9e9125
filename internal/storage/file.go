package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ckbot/internal/registry"
	"ckbot/pkg/logx"
)

// fileStore keeps one JSON snapshot at path. Saves go to a temp file in the
// same directory which is synced and renamed over the target, so a crash
// leaves either the old or the new snapshot, never a torn one.
type fileStore struct {
	log  logx.Logger
	path string
	now  func() time.Time

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &fileStore{log: log, path: path, now: time.Now}, nil
}

func (s *fileStore) Load(ctx context.Context) (registry.State, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return emptyState(), nil
	}
	if err != nil {
		return emptyState(), fmt.Errorf("read snapshot: %w", err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return emptyState(), nil
	}

	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		aside := s.moveAsideLocked()
		return emptyState(), fmt.Errorf("%w: %s: %v (moved to %s)", ErrCorrupt, s.path, err, aside)
	}
	if snap.Version > snapshotVersion {
		s.log.Warn("snapshot written by a newer version", logx.Int("version", snap.Version))
	}
	return fromSnapshot(snap, s.log), nil
}

func (s *fileStore) Save(ctx context.Context, st registry.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(toSnapshot(st, s.now()), "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeAtomic(s.path, b)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// moveAsideLocked renames a corrupt snapshot so the next save does not
// overwrite it.
func (s *fileStore) moveAsideLocked() string {
	aside := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	if err := os.Rename(s.path, aside); err != nil {
		s.log.Error("failed to move corrupt snapshot aside", logx.Err(err), logx.String("path", s.path))
		return ""
	}
	s.log.Warn("corrupt snapshot moved aside", logx.String("path", aside))
	return aside
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	ok = true

	// Persist the rename itself. Not all platforms support syncing a directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
