// Package commands maps chat commands onto registry operations.
//
// Incoming updates are parsed on the dispatch loop and executed on a bounded
// worker pool. Each request runs through panic recovery, request logging and
// a timeout, and is rate limited per user.
package commands

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ckbot/internal/registry"
	"ckbot/internal/runtime/supervisor"
	"ckbot/internal/transport"
	"ckbot/pkg/logx"
)

// Registry is the subset of *registry.Registry the dispatcher uses.
type Registry interface {
	JoinCount(ctx context.Context, key registry.SlotKey, m registry.Member) (registry.Outcome, int)
	Cancel(ctx context.Context, key registry.SlotKey, userID string) registry.Outcome
	ProposeAdHoc(ctx context.Context, req registry.AdHocRequest) registry.Outcome
	Status() registry.Snapshot
	Remaining(key registry.SlotKey) (int, registry.Outcome)
	Capacity() int
	Slots() []registry.SlotKey
	ParseSlot(day, hour string) (registry.SlotKey, bool)
}

// ResetInfo feeds the status footer. *reset.Scheduler implements it.
type ResetInfo interface {
	NextReset() time.Time
}

type Config struct {
	Workers    int
	QueueSize  int
	Timeout    time.Duration
	RatePerMin int
	Burst      int
	// BotUsername filters "/cmd@otherbot" in groups. Empty accepts all.
	BotUsername string
	ResetLabel  string
}

type Request struct {
	Chat      transport.ChatTarget
	MessageID int
	FromID    int64
	From      registry.Member
	Command   string
	Args      []string
	ReqID     string
	Logger    logx.Logger
	Outcome   string
}

type command struct {
	name   string
	usage  string
	desc   string
	hidden bool
}

var commandTable = []command{
	{name: "join", usage: "<day> <hour>", desc: "register for a slot"},
	{name: "cancel", usage: "<day> <hour>", desc: "cancel your registration"},
	{name: "status", desc: "show all slots"},
	{name: "remaining", usage: "<day> <hour>", desc: "free places in a slot"},
	{name: "propose", usage: "<date> <time> [note]", desc: "propose another time"},
	{name: "help", desc: "show this help"},
	{name: "start", desc: "show this help", hidden: true},
}

var ErrQueueFull = errors.New("commands: queue full")

const limiterIdle = 30 * time.Minute

type Dispatcher struct {
	reg     Registry
	adapter transport.Adapter
	resets  ResetInfo
	log     logx.Logger
	cfg     Config

	timeout atomic.Int64
	limiter *userLimiter
	routes  map[string]HandlerFunc

	jobs chan func()
}

func New(cfg Config, reg Registry, adapter transport.Adapter, resets ResetInfo, log logx.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		reg:     reg,
		adapter: adapter,
		resets:  resets,
		log:     log.With(logx.String("comp", "commands")),
		cfg:     cfg,
		limiter: newUserLimiter(cfg.RatePerMin, cfg.Burst),
		jobs:    make(chan func(), cfg.QueueSize),
	}
	d.timeout.Store(int64(cfg.Timeout))
	d.routes = map[string]HandlerFunc{
		"join":      d.handleJoin,
		"cancel":    d.handleCancel,
		"status":    d.handleStatus,
		"remaining": d.handleRemaining,
		"propose":   d.handlePropose,
		"help":      d.handleHelp,
		"start":     d.handleHelp,
	}
	return d
}

// SetLimits applies reloaded rate limits and timeout to later requests.
func (d *Dispatcher) SetLimits(ratePerMin, burst int, timeout time.Duration) {
	d.limiter.setLimits(ratePerMin, burst)
	d.timeout.Store(int64(timeout))
	d.log.Info("command limits updated", logx.Int("rate_per_min", ratePerMin), logx.Int("burst", burst), logx.Duration("timeout", timeout))
}

// MenuCommands lists the visible commands for the platform menu.
func MenuCommands() []transport.BotCommand {
	out := make([]transport.BotCommand, 0, len(commandTable))
	for _, c := range commandTable {
		if c.hidden {
			continue
		}
		out = append(out, transport.BotCommand{Command: c.name, Description: c.desc})
	}
	return out
}

// Run consumes updates until ctx is done or updates is closed.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(d.log),
		supervisor.WithCancelOnError(false),
	)
	d.log.Info("command dispatcher started", logx.Int("workers", d.cfg.Workers), logx.Int("queue_cap", cap(d.jobs)))

	for i := 0; i < d.cfg.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			return d.worker(c, idx)
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	sup.Go0("command.limiter.prune", d.pruneLoop)

	if up, ok := d.adapter.(transport.CommandMenuUpdater); ok {
		sup.Go0("command.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, MenuCommands()); err != nil {
				d.log.Warn("command menu update failed", logx.Err(err))
			}
		})
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		d.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.route(ctx, up)
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, idx int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-d.jobs:
			func() {
				defer func() {
					if r := recover(); r != nil {
						d.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (d *Dispatcher) pruneLoop(ctx context.Context) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := d.limiter.prune(now, limiterIdle); n > 0 {
				d.log.Debug("pruned idle rate limiters", logx.Int("count", n))
			}
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	name, mention, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	if mention != "" && d.cfg.BotUsername != "" && !strings.EqualFold(mention, d.cfg.BotUsername) {
		return
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	h, known := d.routes[name]
	if !known {
		// Groups are noisy; only answer unknown commands addressed to us.
		if !msg.IsGroup || mention != "" {
			d.send(ctx, chat, msg.ID, "Unknown command. Try /help")
		}
		return
	}

	if !d.limiter.allow(msg.FromID, time.Now()) {
		d.log.Debug("request throttled", logx.Int64("from_id", msg.FromID), logx.String("cmd", name))
		d.send(ctx, chat, msg.ID, "Too many requests, try again in a moment.")
		return
	}

	rid := uuid.NewString()
	req := &Request{
		Chat:      chat,
		MessageID: msg.ID,
		FromID:    msg.FromID,
		From:      registry.Member{ID: strconv.FormatInt(msg.FromID, 10), Name: msg.FromName},
		Command:   name,
		Args:      args,
		ReqID:     rid,
		Logger: d.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", name),
		),
	}

	final := Chain(h,
		MWPanicRecover(d.log),
		MWRequestLog(d.log),
		MWTimeout(time.Duration(d.timeout.Load())),
	)
	if err := d.enqueue(func() { _ = final(ctx, req) }); err != nil {
		d.send(ctx, chat, msg.ID, "Busy, try again.")
	}
}

func (d *Dispatcher) enqueue(job func()) error {
	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) send(ctx context.Context, to transport.ChatTarget, replyTo int, text string) {
	if _, err := d.adapter.SendText(ctx, to, text, &transport.SendOptions{DisablePreview: true, ReplyTo: replyTo}); err != nil {
		d.log.Warn("send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (d *Dispatcher) reply(ctx context.Context, req *Request, text string) error {
	_, err := d.adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{DisablePreview: true, ReplyTo: req.MessageID})
	return err
}
