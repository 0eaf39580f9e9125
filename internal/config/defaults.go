package config

import "strings"

const (
	DefaultMaxPlayers  = 10
	DefaultPollTimeout = "10s"
	DefaultLogPath     = "./ckbot.log"
	DefaultStoragePath = "./data/registrations.json"
	DefaultHealthAddr  = ":8080"
)

// ApplyDefaults fills zero values. It never overrides explicit settings.
func ApplyDefaults(c *Config) {
	if strings.TrimSpace(c.Telegram.PollTimeout) == "" {
		c.Telegram.PollTimeout = DefaultPollTimeout
	}

	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		c.Logging.File.Path = DefaultLogPath
	}
	if strings.TrimSpace(c.Logging.Chat.MinLevel) == "" {
		c.Logging.Chat.MinLevel = "warn"
	}
	if c.Logging.Chat.RatePerSec <= 0 {
		c.Logging.Chat.RatePerSec = 1
	}

	if c.Registry.MaxPlayers == 0 {
		c.Registry.MaxPlayers = DefaultMaxPlayers
	}
	if len(c.Registry.Days) == 0 {
		c.Registry.Days = []string{"saturday", "sunday"}
	}
	if len(c.Registry.Hours) == 0 {
		c.Registry.Hours = []string{"15:00", "20:00"}
	}

	if strings.TrimSpace(c.Reset.Weekday) == "" {
		c.Reset.Weekday = "monday"
	}
	if strings.TrimSpace(c.Reset.At) == "" {
		c.Reset.At = "00:00"
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "":
		c.Storage.Driver = "file"
		if strings.TrimSpace(c.Storage.Path) == "" {
			c.Storage.Path = DefaultStoragePath
		}
	case "file", "json":
		if strings.TrimSpace(c.Storage.Path) == "" {
			c.Storage.Path = DefaultStoragePath
		}
	}

	if c.Commands.Workers <= 0 {
		c.Commands.Workers = 4
	}
	if strings.TrimSpace(c.Commands.Timeout) == "" {
		c.Commands.Timeout = "15s"
	}
	if c.Commands.RatePerMin <= 0 {
		c.Commands.RatePerMin = 20
	}
	if c.Commands.Burst <= 0 {
		c.Commands.Burst = 5
	}

	if c.Health.Enabled && strings.TrimSpace(c.Health.Addr) == "" {
		c.Health.Addr = DefaultHealthAddr
	}
}
