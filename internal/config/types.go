package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Registry RegistryConfig `json:"registry"`
	Reset    ResetConfig    `json:"reset"`
	Storage  StorageConfig  `json:"storage"`
	Commands CommandsConfig `json:"commands"`
	Health   HealthConfig   `json:"health"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AnnounceChat receives the weekly reset notice. 0 disables it.
	AnnounceChat   int64 `json:"announce_chat,omitempty"`
	AnnounceThread int   `json:"announce_thread,omitempty"`
	// LogChat receives WARN+ log lines when logging.chat is enabled.
	LogChat   int64 `json:"log_chat,omitempty"`
	LogThread int   `json:"log_thread,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RegistryConfig defines the fixed slots. Days x Hours is the slot
// enumeration; it is read once at startup.
type RegistryConfig struct {
	MaxPlayers int      `json:"max_players"`
	Days       []string `json:"days"`
	Hours      []string `json:"hours"`
}

// ResetConfig is the weekly boundary. Timezone is an IANA name; empty means
// host local time.
type ResetConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Weekday  string `json:"weekday"`
	At       string `json:"at"`
	Timezone string `json:"timezone,omitempty"`
	Announce bool   `json:"announce"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/registrations.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; never logged
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type CommandsConfig struct {
	Workers    int    `json:"workers"`
	Timeout    string `json:"timeout"`
	RatePerMin int    `json:"rate_per_min"`
	Burst      int    `json:"burst"`
}

type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	// Pprof mounts the runtime profiler under /debug. Keep Addr on loopback.
	Pprof bool `json:"pprof,omitempty"`
}

// ResetEnabled defaults to true when omitted.
func (c ResetConfig) ResetEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
