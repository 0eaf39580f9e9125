package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are applied on top of the file. Secrets usually live here.
type envOverrides struct {
	Token         string `env:"CKBOT_TELEGRAM_TOKEN"`
	BotToken      string `env:"BOT_TOKEN"`
	Port          string `env:"PORT"`
	StorageDriver string `env:"CKBOT_STORAGE_DRIVER"`
	StoragePath   string `env:"CKBOT_STORAGE_PATH"`
	StorageDSN    string `env:"CKBOT_STORAGE_DSN"`
	LogLevel      string `env:"CKBOT_LOG_LEVEL"`
}

// ApplyEnv overlays environment variables onto c. PORT enables the health
// endpoint on that port.
func ApplyEnv(c *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	switch {
	case strings.TrimSpace(o.Token) != "":
		c.Telegram.Token = strings.TrimSpace(o.Token)
	case strings.TrimSpace(o.BotToken) != "":
		c.Telegram.Token = strings.TrimSpace(o.BotToken)
	}
	if p := strings.TrimSpace(o.Port); p != "" {
		c.Health.Enabled = true
		c.Health.Addr = ":" + strings.TrimPrefix(p, ":")
	}
	if v := strings.TrimSpace(o.StorageDriver); v != "" {
		c.Storage.Driver = v
	}
	if v := strings.TrimSpace(o.StoragePath); v != "" {
		c.Storage.Path = v
	}
	if v := strings.TrimSpace(o.StorageDSN); v != "" {
		c.Storage.DSN = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		c.Logging.Level = v
	}
	return nil
}
