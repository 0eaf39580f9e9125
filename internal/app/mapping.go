package app

import (
	"fmt"
	"strings"
	"time"

	"ckbot/internal/commands"
	"ckbot/internal/config"
	"ckbot/internal/health"
	"ckbot/internal/registry"
	"ckbot/internal/storage"
	"ckbot/internal/transport"
	"ckbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func logTarget(cfg *config.Config) transport.ChatTarget {
	return transport.ChatTarget{ChatID: cfg.Telegram.LogChat, ThreadID: cfg.Telegram.LogThread}
}

func announceTarget(cfg *config.Config) (transport.ChatTarget, bool) {
	if !cfg.Reset.Announce || cfg.Telegram.AnnounceChat == 0 {
		return transport.ChatTarget{}, false
	}
	return transport.ChatTarget{ChatID: cfg.Telegram.AnnounceChat, ThreadID: cfg.Telegram.AnnounceThread}, true
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapRegistryConfig(cfg *config.Config) (registry.Config, error) {
	days, err := cfg.Registry.Weekdays()
	if err != nil {
		return registry.Config{}, err
	}
	cat, err := registry.NewCatalog(days, cfg.Registry.Hours)
	if err != nil {
		return registry.Config{}, fmt.Errorf("registry: %w", err)
	}
	return registry.Config{MaxPlayers: cfg.Registry.MaxPlayers, Catalog: cat}, nil
}

func mapCommandsConfig(cfg *config.Config) (commands.Config, error) {
	timeout, err := config.ParseDurationOrDefault("commands.timeout", cfg.Commands.Timeout, 10*time.Second)
	if err != nil {
		return commands.Config{}, err
	}
	return commands.Config{
		Workers:    cfg.Commands.Workers,
		Timeout:    timeout,
		RatePerMin: cfg.Commands.RatePerMin,
		Burst:      cfg.Commands.Burst,
	}, nil
}

func mapHealthConfig(cfg *config.Config) health.Config {
	return health.Config{Addr: cfg.Health.Addr, Pprof: cfg.Health.Pprof}
}
