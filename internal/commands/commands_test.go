package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ckbot/internal/registry"
	"ckbot/internal/transport"
	"ckbot/pkg/logx"
)

type sent struct {
	to   transport.ChatTarget
	text string
	opt  *transport.SendOptions
}

type fakeAdapter struct {
	mu   sync.Mutex
	msgs []sent
	menu []transport.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{to: to, text: text, opt: opt})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.msgs)}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []transport.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.text)
	}
	return out
}

type fixedReset time.Time

func (f fixedReset) NextReset() time.Time { return time.Time(f) }

type harness struct {
	t       *testing.T
	reg     *registry.Registry
	adapter *fakeAdapter
	updates chan transport.Update
	nextID  int
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessWith(t, cfg, func(r *registry.Registry) Registry { return r })
}

// newHarnessWith lets a test put a wrapper between the dispatcher and the registry.
func newHarnessWith(t *testing.T, cfg Config, wrap func(*registry.Registry) Registry) *harness {
	t.Helper()
	reg, err := registry.New(registry.Config{MaxPlayers: 3, Catalog: registry.DefaultCatalog()}, registry.Deps{Log: logx.Nop()})
	require.NoError(t, err)
	h := &harness{t: t, reg: reg, adapter: &fakeAdapter{}, updates: make(chan transport.Update, 16)}

	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.ResetLabel == "" {
		cfg.ResetLabel = "monday 00:00 UTC"
	}
	d := New(cfg, wrap(reg), h.adapter, fixedReset(time.Now().Add(49*time.Hour)), logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx, h.updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// say sends text from user and waits for the n-th reply overall.
func (h *harness) say(userID int64, name, text string) string {
	h.t.Helper()
	want := len(h.adapter.texts()) + 1
	h.nextID++
	h.updates <- transport.Update{Message: &transport.Message{
		ID: h.nextID, ChatID: -100, FromID: userID, FromName: name, Text: text, IsGroup: true,
	}}
	require.Eventually(h.t, func() bool { return len(h.adapter.texts()) >= want }, 2*time.Second, 5*time.Millisecond)
	texts := h.adapter.texts()
	return texts[want-1]
}

func TestJoinFlow(t *testing.T) {
	h := newHarness(t, Config{})

	assert.Contains(t, h.say(1, "Alice", "/join sat 15"), "Alice joined Sat 15:00 (1/3)")
	assert.Contains(t, h.say(1, "Alice", "/join Saturday 15:00"), "already registered")
	assert.Contains(t, h.say(2, "Bob", "/join@ckbot sat 3pm"), "Bob joined Sat 15:00 (2/3)")
	assert.Contains(t, h.say(3, "Carol", "/join sat-15"), "(3/3)")
	assert.Contains(t, h.say(4, "Dan", "/join sat 15"), "is full (3/3)")

	assert.Equal(t, "Sat 15:00 is full.", h.say(4, "Dan", "/remaining sat 15"))
	assert.Contains(t, h.say(1, "Alice", "/cancel sat 15"), "Alice cancelled Sat 15:00")
	assert.Equal(t, "Sat 15:00: 1 of 3 places left.", h.say(4, "Dan", "/remaining sat 15"))
	assert.Contains(t, h.say(1, "Alice", "/cancel sat 15"), "not registered")
}

// crowdedRegistry behaves as if other users filled the slot right after
// every join, so Remaining no longer reflects the caller's own append.
type crowdedRegistry struct {
	*registry.Registry
}

func (c crowdedRegistry) Remaining(registry.SlotKey) (int, registry.Outcome) {
	return 0, registry.OK
}

func TestJoinReplyCountsOwnAppend(t *testing.T) {
	h := newHarnessWith(t, Config{}, func(r *registry.Registry) Registry { return crowdedRegistry{r} })

	assert.Contains(t, h.say(1, "Alice", "/join sat 15"), "Alice joined Sat 15:00 (1/3)")
	assert.Contains(t, h.say(2, "Bob", "/join sat 15"), "Bob joined Sat 15:00 (2/3)")
}

func TestInvalidSlotListsValidOnes(t *testing.T) {
	h := newHarness(t, Config{})
	reply := h.say(1, "Alice", "/join mon 9")
	assert.Equal(t, "Unknown slot. Valid slots: Sat 15:00, Sat 20:00, Sun 15:00, Sun 20:00", reply)
	assert.Contains(t, h.say(1, "Alice", "/cancel"), "Usage: /cancel <day> <hour>")
}

func TestStatusRendering(t *testing.T) {
	h := newHarness(t, Config{})
	h.say(1, "Alice", "/join sun 20")
	h.say(2, "", "/join sun 20")
	h.say(1, "Alice", `/propose 10/24 18:00 "raid night"`)

	status := h.say(3, "Carol", "/status")
	lines := strings.Split(status, "\n")
	assert.Equal(t, "📋 Weekly registrations", lines[0])
	assert.Contains(t, status, "🟢 Sat 15:00 (0/3): -")
	assert.Contains(t, status, "🟡 Sun 20:00 (2/3): Alice, 2")
	assert.Contains(t, status, "• 10/24 18:00 by Alice (raid night)")
	assert.Contains(t, status, "Registrations reset every monday 00:00 UTC (next in 2d ")
}

func TestProposeDuplicates(t *testing.T) {
	h := newHarness(t, Config{})
	assert.Equal(t, "📝 Proposal noted: 10/24 18:00.", h.say(1, "Alice", "/propose 10/24 18:00"))
	assert.Equal(t, "You already proposed 10/24 18:00.", h.say(1, "Alice", "/propose 10/24 18:00 again"))
	assert.Contains(t, h.say(1, "Alice", "/propose 10/24"), "Usage: /propose")
}

func TestRateLimitPerUser(t *testing.T) {
	h := newHarness(t, Config{RatePerMin: 1, Burst: 2})
	h.say(1, "Alice", "/help")
	h.say(1, "Alice", "/help")
	assert.Equal(t, "Too many requests, try again in a moment.", h.say(1, "Alice", "/help"))
	// Other users have their own bucket.
	assert.Contains(t, h.say(2, "Bob", "/help"), "/join <day> <hour>")
}

func TestCommandsForOtherBotsAreIgnored(t *testing.T) {
	h := newHarness(t, Config{BotUsername: "ckbot"})
	h.updates <- transport.Update{Message: &transport.Message{ID: 1, ChatID: -100, FromID: 1, Text: "/join@otherbot sat 15", IsGroup: true}}
	h.updates <- transport.Update{Message: &transport.Message{ID: 2, ChatID: -100, FromID: 1, Text: "/frobnicate", IsGroup: true}}
	h.updates <- transport.Update{Message: &transport.Message{ID: 3, ChatID: -100, FromID: 1, Text: "just chatting", IsGroup: true}}
	assert.Equal(t, "Unknown command. Try /help", h.say(1, "Alice", "/frobnicate@ckbot"))
	assert.Len(t, h.adapter.texts(), 1)
}

func TestMenuIsPublished(t *testing.T) {
	h := newHarness(t, Config{})
	require.Eventually(t, func() bool {
		h.adapter.mu.Lock()
		defer h.adapter.mu.Unlock()
		return len(h.adapter.menu) > 0
	}, 2*time.Second, 5*time.Millisecond)
	h.adapter.mu.Lock()
	defer h.adapter.mu.Unlock()
	names := make([]string, 0, len(h.adapter.menu))
	for _, c := range h.adapter.menu {
		names = append(names, c.Command)
	}
	assert.Equal(t, []string{"join", "cancel", "status", "remaining", "propose", "help"}, names)
}

func TestParseCommand(t *testing.T) {
	name, mention, args, ok := parseCommand(`/Propose@CKBot 10/24 "18:00" 'late night' \"x`)
	require.True(t, ok)
	assert.Equal(t, "propose", name)
	assert.Equal(t, "CKBot", mention)
	assert.Equal(t, []string{"10/24", "18:00", "late night", `"x`}, args)

	_, _, _, ok = parseCommand("hello /join")
	assert.False(t, ok)
	_, _, _, ok = parseCommand("/")
	assert.False(t, ok)
}

func TestTruncateRunes(t *testing.T) {
	long := strings.Repeat("가", 80)
	got := truncateRunes(long, 70)
	assert.Equal(t, 70, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.Equal(t, "short", truncateRunes("short", 70))
}

func TestSlotLineTruncatesNames(t *testing.T) {
	var members []registry.Member
	for _, n := range []string{"Alexandria", "Bartholomew", "Cassiopeia", "Demetrius", "Evangeline", "Fitzgerald", "Guinevere"} {
		members = append(members, registry.Member{ID: n, Name: n})
	}
	line := slotLine(registry.SlotStatus{
		Key:      registry.SlotKey{Day: time.Saturday, Hour: "15:00"},
		Members:  members,
		Count:    7,
		Capacity: 10, Remaining: 3,
	})
	_, names, _ := strings.Cut(line, ": ")
	assert.Equal(t, 70, len([]rune(names)))
	assert.True(t, strings.HasSuffix(names, "…"))
}

func TestMiddlewareRecoversPanic(t *testing.T) {
	h := Chain(func(context.Context, *Request) error { panic("boom") },
		MWPanicRecover(logx.Nop()),
		MWRequestLog(logx.Nop()),
		MWTimeout(time.Second),
	)
	err := h(context.Background(), &Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestMiddlewareTimeout(t *testing.T) {
	h := Chain(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, MWTimeout(20*time.Millisecond))
	assert.True(t, errors.Is(h(context.Background(), &Request{}), context.DeadlineExceeded))
}

func TestLimiterPrune(t *testing.T) {
	l := newUserLimiter(60, 1)
	now := time.Now()
	assert.True(t, l.allow(1, now))
	assert.False(t, l.allow(1, now))
	assert.True(t, l.allow(2, now.Add(time.Hour)))

	assert.Equal(t, 1, l.prune(now.Add(time.Hour), 30*time.Minute))
	assert.Equal(t, 1, l.size())

	l.setLimits(0, 1)
	assert.True(t, l.allow(2, now.Add(time.Hour)))
	assert.True(t, l.allow(2, now.Add(time.Hour)))
}
