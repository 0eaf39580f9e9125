package logx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ckbot/internal/transport"
)

type captureAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (c *captureAdapter) Stop(context.Context) error                           { return nil }
func (c *captureAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureAdapter) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug", zerolog.InfoLevel))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" Warning ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("ERROR", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus", zerolog.InfoLevel))
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"2026-10-19T00:00:00Z","message":"save failed","comp":"registry","err":"disk full"}`)
	got := formatChatLine(line)
	assert.Equal(t, "[WARN] save failed\n- comp=registry\n- err=disk full", got)

	assert.Equal(t, "not json", formatChatLine([]byte("  not json \n")))
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	require.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	l.With(Int("n", 1)).Error("dropped too")
	assert.False(t, Nop().IsZero())
}

func TestChatSinkMirrorsWarnings(t *testing.T) {
	ad := &captureAdapter{}
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	}, ad)
	t.Cleanup(func() { _ = svc.Close() })
	svc.SetChatTarget(transport.ChatTarget{ChatID: 99})

	log.Info("quiet")
	log.With(String("comp", "reset")).Warn("sweep failed", Err(assert.AnError))

	require.Eventually(t, func() bool { return len(ad.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := ad.messages()[0]
	assert.Contains(t, msg, "[WARN] sweep failed")
	assert.Contains(t, msg, "- comp=reset")
}
