package storage

import (
	"context"
	"errors"
	"time"

	"ckbot/internal/registry"
)

var (
	// ErrCorrupt wraps decode failures. Load still returns a usable empty State.
	ErrCorrupt = errors.New("storage: snapshot corrupt")
	ErrClosed  = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values: "memory" (or "none", ""), "file", "sqlite", "postgres", "redis".
type Config struct {
	Driver      string
	Path        string        // file and sqlite; the key for redis
	DSN         string        // postgres and redis URL
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store loads and saves the whole registry State.
type Store interface {
	Load(ctx context.Context) (registry.State, error)
	Save(ctx context.Context, st registry.State) error
	Close() error
}

func emptyState() registry.State {
	return registry.State{Slots: map[registry.SlotKey][]registry.Member{}}
}
