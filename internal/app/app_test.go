package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ckbot/internal/config"
	"ckbot/internal/registry"
	"ckbot/internal/transport"
	"ckbot/pkg/logx"
)

type sent struct {
	to   transport.ChatTarget
	text string
}

type fakeAdapter struct {
	mu   sync.Mutex
	msgs []sent
	log  logx.Logger
}

func (f *fakeAdapter) SetLogger(l logx.Logger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = l
}

func (f *fakeAdapter) logger() logx.Logger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.log
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{to: to, text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.msgs)}, nil
}

func (f *fakeAdapter) sentTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.msgs {
		if m.to.ChatID == chatID {
			out = append(out, m.text)
		}
	}
	return out
}

const testConfig = `
telegram:
  token: "test-token"
  announce_chat: -100
logging:
  level: error
registry:
  max_players: 2
reset:
  weekday: monday
  at: "00:00"
  timezone: UTC
  announce: true
storage:
  driver: memory
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	t.Setenv("CKBOT_TELEGRAM_TOKEN", "")
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("PORT", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppJoinAndWeeklyReset(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 10, 18, 23, 59, 0, 0, time.UTC))
	ad := &fakeAdapter{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, writeConfig(t, testConfig), WithAdapter(ad), WithClock(clk))
	require.NoError(t, err)

	// The adapter logs through the configured root logger (level error).
	require.False(t, ad.logger().IsZero())
	assert.False(t, ad.logger().Enabled(zerolog.WarnLevel))
	assert.True(t, ad.logger().Enabled(zerolog.ErrorLevel))
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	a.updates <- transport.Update{Message: &transport.Message{
		ID: 1, ChatID: 7, FromID: 42, FromName: "Ada", Text: "/join sat 15",
	}}
	require.Eventually(t, func() bool { return len(ad.sentTo(7)) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, a.Registry().Status().Slots[0].Count)

	bctx, bcancel := context.WithTimeout(ctx, 3*time.Second)
	defer bcancel()
	require.NoError(t, clk.BlockUntilContext(bctx, 1))
	clk.Advance(time.Minute)

	require.Eventually(t, func() bool { return len(ad.sentTo(-100)) == 1 }, 3*time.Second, 10*time.Millisecond)
	notice := ad.sentTo(-100)[0]
	assert.Contains(t, notice, "1 registration cleared")
	assert.Contains(t, notice, "Next reset: Mon 26 Oct 00:00 UTC")
	for _, st := range a.Registry().Status().Slots {
		assert.Zero(t, st.Count, st.Key.String())
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), writeConfig(t, strings.Replace(testConfig, "max_players: 2", "max_players: -1", 1)),
		WithAdapter(&fakeAdapter{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry.max_players")
}

func TestAnnounceTarget(t *testing.T) {
	cfg := &config.Config{}
	_, ok := announceTarget(cfg)
	assert.False(t, ok)

	cfg.Telegram.AnnounceChat = -100
	_, ok = announceTarget(cfg)
	assert.False(t, ok, "announce flag off")

	cfg.Reset.Announce = true
	cfg.Telegram.AnnounceThread = 9
	to, ok := announceTarget(cfg)
	assert.True(t, ok)
	assert.Equal(t, transport.ChatTarget{ChatID: -100, ThreadID: 9}, to)
}

func TestMapRegistryConfig(t *testing.T) {
	cfg := &config.Config{Registry: config.RegistryConfig{
		MaxPlayers: 4,
		Days:       []string{"friday"},
		Hours:      []string{"18:00", "21:30"},
	}}
	rc, err := mapRegistryConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, rc.MaxPlayers)
	assert.Equal(t, []registry.SlotKey{
		{Day: time.Friday, Hour: "18:00"},
		{Day: time.Friday, Hour: "21:30"},
	}, rc.Catalog.Keys())
}

func TestMapStorageConfig(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Driver: " SQLite ", Path: "./x.db"}}
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	cfg.Storage.BusyTimeout = "soon"
	_, err = mapStorageConfig(cfg)
	assert.Error(t, err)
}

func TestResetNotice(t *testing.T) {
	slots := []registry.SlotKey{{Day: time.Saturday, Hour: "15:00"}}
	next := time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC)

	got := resetNotice(registry.ResetEvent{ResetResult: registry.ResetResult{Cleared: 5, AdHocCleared: 2}}, slots, next)
	assert.Contains(t, got, "5 registrations cleared.")
	assert.Contains(t, got, "2 proposal(s) dropped.")
	assert.Contains(t, got, "Slots: Sat 15:00")
	assert.Contains(t, got, "Next reset: Mon 26 Oct 00:00 UTC")

	got = resetNotice(registry.ResetEvent{}, nil, time.Time{})
	assert.Contains(t, got, "No registrations to clear.")
	assert.NotContains(t, got, "Next reset")
}
