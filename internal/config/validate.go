package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ckbot/internal/clock"
)

// Validate reports every problem at once.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or set CKBOT_TELEGRAM_TOKEN / BOT_TOKEN)"))
	}
	_, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	add(err)

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	if c.Registry.MaxPlayers <= 0 {
		add(fmt.Errorf("registry.max_players must be > 0, got %d", c.Registry.MaxPlayers))
	}
	_, err = c.Registry.Weekdays()
	add(err)
	for _, h := range c.Registry.Hours {
		if _, _, err := clock.ParseHHMM(h); err != nil {
			add(fmt.Errorf("registry.hours: %w", err))
		}
	}

	if _, err := clock.ParseWeekday(c.Reset.Weekday); err != nil {
		add(fmt.Errorf("reset.weekday: %w", err))
	}
	if _, _, err := clock.ParseHHMM(c.Reset.At); err != nil {
		add(fmt.Errorf("reset.at: %w", err))
	}
	_, err = c.Reset.Location()
	add(err)

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none", "memory":
	case "file", "json", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver))
		}
	case "postgres", "postgresql", "pg", "redis":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(fmt.Errorf("storage.dsn is required for %s (or set CKBOT_STORAGE_DSN)", c.Storage.Driver))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	add(err)

	if c.Commands.Workers < 1 || c.Commands.Workers > 64 {
		add(fmt.Errorf("commands.workers must be between 1 and 64, got %d", c.Commands.Workers))
	}
	_, err = ParseDurationField("commands.timeout", c.Commands.Timeout)
	add(err)
	if c.Commands.RatePerMin < 0 || c.Commands.Burst < 0 {
		add(errors.New("commands.rate_per_min and commands.burst must be >= 0"))
	}

	if c.Health.Enabled && strings.TrimSpace(c.Health.Addr) == "" {
		add(errors.New("health.addr is required when health is enabled"))
	}
	return errors.Join(errs...)
}

// Weekdays parses Days in order.
func (c RegistryConfig) Weekdays() ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(c.Days))
	for _, d := range c.Days {
		wd, err := clock.ParseWeekday(d)
		if err != nil {
			return nil, fmt.Errorf("registry.days: %w", err)
		}
		out = append(out, wd)
	}
	return out, nil
}

// Location resolves Timezone; empty means time.Local.
func (c ResetConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("reset.timezone: %w", err)
	}
	return loc, nil
}

// Boundary builds the weekly reset boundary.
func (c ResetConfig) Boundary() (*clock.Weekly, error) {
	wd, err := clock.ParseWeekday(c.Weekday)
	if err != nil {
		return nil, fmt.Errorf("reset.weekday: %w", err)
	}
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return clock.NewWeekly(wd, c.At, loc)
}
