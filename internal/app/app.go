// Package app wires the registry, reset scheduler, storage and transports
// into one process and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ckbot/internal/clock"
	"ckbot/internal/commands"
	"ckbot/internal/config"
	"ckbot/internal/eventbus"
	"ckbot/internal/health"
	"ckbot/internal/registry"
	"ckbot/internal/reset"
	"ckbot/internal/runtime/supervisor"
	"ckbot/internal/storage"
	"ckbot/internal/transport"
	"ckbot/internal/transport/telegram"
	"ckbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clock clock.Clock

	reg    *registry.Registry
	resets *reset.Scheduler // nil when reset.enabled is false
	disp   *commands.Dispatcher
	health *health.Server // nil when health.enabled is false

	adapter transport.Adapter
	updates chan transport.Update
}

// loggerSetter is implemented by adapters that are built before the
// configured root logger exists.
type loggerSetter interface {
	SetLogger(logx.Logger)
}

type Option func(*options)

type options struct {
	adapter transport.Adapter
	clock   clock.Clock
}

// WithAdapter replaces the Telegram transport.
func WithAdapter(a transport.Adapter) Option { return func(o *options) { o.adapter = a } }

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// New loads the config, opens storage and restores the persisted registry.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.clock == nil {
		o.clock = clock.NewReal()
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad := o.adapter
	if ad == nil {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout},
			logx.NewConsole("INFO"))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ad = tg
	}

	// Bootstrap with the chat sink off, set its target, then enable it, so
	// Apply does not warn about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	logSvc.SetChatTarget(logTarget(cfg))
	logSvc.Apply(logCfg)
	if ls, ok := ad.(loggerSetter); ok {
		ls.SetLogger(root)
	}
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, root)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	rc, err := mapRegistryConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	reg, err := registry.New(rc, registry.Deps{Store: store, Bus: bus, Log: root, Clock: o.clock})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	restore(ctx, log, store, reg)

	var resets *reset.Scheduler
	resetLabel := ""
	if cfg.Reset.ResetEnabled() {
		boundary, err := cfg.Reset.Boundary()
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		resets = reset.New(reg, boundary, o.clock, root)
		resetLabel = boundary.String()
	}

	cc, err := mapCommandsConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	cc.ResetLabel = resetLabel
	if u, ok := ad.(interface{ Username() string }); ok {
		cc.BotUsername = u.Username()
	}
	var info commands.ResetInfo
	if resets != nil {
		info = resets
	}
	disp := commands.New(cc, reg, ad, info, root)

	var hs *health.Server
	if cfg.Health.Enabled {
		var sched health.Scheduler
		if resets != nil {
			sched = resets
		}
		hs = health.New(mapHealthConfig(cfg), reg, sched, root)
	}

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		clock:   o.clock,
		reg:     reg,
		resets:  resets,
		disp:    disp,
		health:  hs,
		adapter: ad,
		updates: make(chan transport.Update, 256),
	}, nil
}

// restore loads the persisted state. A failed or corrupt load starts empty.
func restore(ctx context.Context, log logx.Logger, store storage.Store, reg *registry.Registry) {
	st, err := store.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrCorrupt):
		log.Warn("persisted registrations corrupt; starting empty", logx.Err(err))
	case err != nil:
		log.Warn("load registrations failed; starting empty", logx.Err(err))
	}
	rep := reg.Restore(st)
	fields := []logx.Field{logx.Int("members", rep.Members), logx.Int("adhoc", rep.AdHoc)}
	if rep.Clean() {
		log.Info("registrations restored", fields...)
		return
	}
	fields = append(fields,
		logx.String("unknown_slots", strings.Join(rep.UnknownSlots, ",")),
		logx.Int("duplicates", rep.Duplicates),
		logx.Int("truncated", rep.Truncated),
		logx.Int("adhoc_dupes", rep.AdHocDupes),
	)
	log.Warn("registrations restored with corrections", fields...)
}

// Registry exposes the registry, mainly for tests.
func (a *App) Registry() *registry.Registry { return a.reg }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapRegistryConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := mapCommandsConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.disp.Run(c, a.updates)
	})

	if a.resets != nil {
		a.sup.Go("reset.scheduler", a.resets.Run)
	} else {
		a.log.Info("weekly reset disabled")
	}

	if a.health != nil {
		a.sup.GoRestart("health.serve", a.health.Run,
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
	}

	a.startEventLog()
	a.startAnnouncer()
	a.startConfigReload()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log) })
	notifyReady(a.log)

	a.log.Info("app started")
	return nil
}

func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(prev, next *config.Config) {
	change := config.SummarizeChange(prev, next)
	if change.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(change.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(change.RestartRequired, ",")))
	}

	// Target first so Apply does not warn when the chat sink is enabled.
	a.logs.SetChatTarget(logTarget(next))
	a.logs.Apply(mapLogConfig(next))

	if cc, err := mapCommandsConfig(next); err != nil {
		a.log.Warn("invalid commands config; keeping previous", logx.Err(err))
	} else {
		a.disp.SetLimits(cc.RatePerMin, cc.Burst, cc.Timeout)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Changed, ","))}, change.Fields...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// step runs one shutdown step bounded by limit and the caller's deadline.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name),
					logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// Transport first so no new commands arrive while state is flushed.
	step("adapter", 3*time.Second, a.adapter.Stop)
	if a.resets != nil {
		step("reset", 2*time.Second, func(c context.Context) error {
			select {
			case <-a.resets.Done():
				return nil
			case <-c.Done():
				return c.Err()
			}
		})
	}
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("registry.flush", 3*time.Second, a.reg.Flush)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
