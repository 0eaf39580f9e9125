package config

import (
	"reflect"
	"strings"

	"ckbot/pkg/logx"
)

// Change summarises a reload. Live sections are applied in place; the rest
// only take effect after a restart.
type Change struct {
	Changed         []string
	RestartRequired []string
	Fields          []logx.Field
}

func (c Change) Empty() bool { return len(c.Changed) == 0 }

// SummarizeChange compares two configs section by section. Fields never
// carry secrets (token, dsn).
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if oldCfg.Logging != newCfg.Logging {
		ch.Changed = append(ch.Changed, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}
	if oldCfg.Commands != newCfg.Commands {
		ch.Changed = append(ch.Changed, "commands")
		ch.Fields = append(ch.Fields,
			logx.Int("commands.rate_per_min", newCfg.Commands.RatePerMin),
			logx.Int("commands.burst", newCfg.Commands.Burst),
			logx.String("commands.timeout", newCfg.Commands.Timeout),
		)
		if oldCfg.Commands.Workers != newCfg.Commands.Workers {
			ch.RestartRequired = append(ch.RestartRequired, "commands.workers")
		}
	}
	if oldCfg.Telegram != newCfg.Telegram {
		ch.Changed = append(ch.Changed, "telegram")
		if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
			oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
			ch.RestartRequired = append(ch.RestartRequired, "telegram")
		}
		ch.Fields = append(ch.Fields,
			logx.Int64("telegram.announce_chat", newCfg.Telegram.AnnounceChat),
			logx.Int64("telegram.log_chat", newCfg.Telegram.LogChat),
		)
	}
	if !reflect.DeepEqual(oldCfg.Registry, newCfg.Registry) {
		ch.Changed = append(ch.Changed, "registry")
		ch.RestartRequired = append(ch.RestartRequired, "registry")
	}
	if !reflect.DeepEqual(oldCfg.Reset, newCfg.Reset) {
		ch.Changed = append(ch.Changed, "reset")
		ch.Fields = append(ch.Fields, logx.Bool("reset.announce", newCfg.Reset.Announce))
		// announce is read live; the boundary is fixed at startup.
		o, n := oldCfg.Reset, newCfg.Reset
		o.Announce, n.Announce = false, false
		if !reflect.DeepEqual(o, n) {
			ch.RestartRequired = append(ch.RestartRequired, "reset")
		}
	}
	if oldCfg.Storage != newCfg.Storage {
		ch.Changed = append(ch.Changed, "storage")
		ch.RestartRequired = append(ch.RestartRequired, "storage")
	}
	if oldCfg.Health != newCfg.Health {
		ch.Changed = append(ch.Changed, "health")
		ch.RestartRequired = append(ch.RestartRequired, "health")
	}
	return ch
}
