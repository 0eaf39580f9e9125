package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ckbot/internal/eventbus"
	"ckbot/internal/registry"
	"ckbot/internal/transport"
	"ckbot/pkg/logx"
)

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				switch d := e.Data.(type) {
				case registry.SlotEvent:
					fields = append(fields, logx.String("slot", d.Slot.String()), logx.String("user", d.Member.ID), logx.Int("count", d.Count))
				case registry.AdHocRequest:
					fields = append(fields, logx.String("user", d.User.ID), logx.String("date", d.Date), logx.String("at", d.Time))
				}
				a.log.Debug("event", fields...)
			}
		}
	})
}

// startAnnouncer posts a notice to the announce chat after each weekly reset.
// The target is read from the live config on every reset.
func (a *App) startAnnouncer() {
	events, unsub := a.bus.Subscribe(8)
	a.sup.Go0("reset.announce", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type != eventbus.TypeReset {
					continue
				}
				ev, _ := e.Data.(registry.ResetEvent)
				to, ok := announceTarget(a.cfgm.Get())
				if !ok {
					continue
				}
				var next time.Time
				if a.resets != nil {
					next = a.resets.Boundary().Next(ev.At)
				}
				sctx, cancel := context.WithTimeout(c, 10*time.Second)
				_, err := a.adapter.SendText(sctx, to, resetNotice(ev, a.reg.Slots(), next), &transport.SendOptions{DisablePreview: true})
				cancel()
				if err != nil {
					a.log.Warn("reset announcement failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
				}
			}
		}
	})
}

func resetNotice(ev registry.ResetEvent, slots []registry.SlotKey, next time.Time) string {
	var b strings.Builder
	b.WriteString("🔄 Weekly reset done.")
	switch n := ev.Cleared; n {
	case 0:
		b.WriteString(" No registrations to clear.")
	case 1:
		b.WriteString(" 1 registration cleared.")
	default:
		fmt.Fprintf(&b, " %d registrations cleared.", n)
	}
	if ev.AdHocCleared > 0 {
		fmt.Fprintf(&b, " %d proposal(s) dropped.", ev.AdHocCleared)
	}
	b.WriteString("\n\nSign-ups for this week are open: /join <day> <hour>")
	if len(slots) > 0 {
		labels := make([]string, 0, len(slots))
		for _, k := range slots {
			labels = append(labels, k.Label())
		}
		b.WriteString("\nSlots: " + strings.Join(labels, ", "))
	}
	if !next.IsZero() {
		b.WriteString("\nNext reset: " + next.Format("Mon 02 Jan 15:04 MST"))
	}
	return b.String()
}
