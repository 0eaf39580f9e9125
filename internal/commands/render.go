package commands

import (
	"fmt"
	"strings"
	"time"

	"ckbot/internal/registry"
)

const namesLineMax = 70

// truncateRunes cuts s to at most max runes, ending in "…" when cut.
func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "…"
}

func slotLine(st registry.SlotStatus) string {
	names := "-"
	if len(st.Members) > 0 {
		parts := make([]string, 0, len(st.Members))
		for _, m := range st.Members {
			parts = append(parts, m.DisplayName())
		}
		names = truncateRunes(strings.Join(parts, ", "), namesLineMax)
	}
	mark := "🟢"
	switch {
	case st.Remaining == 0:
		mark = "🔴"
	case st.Count > 0:
		mark = "🟡"
	}
	return fmt.Sprintf("%s %s (%d/%d): %s", mark, st.Key.Label(), st.Count, st.Capacity, names)
}

func renderStatus(snap registry.Snapshot, resetLabel string, next time.Time) string {
	var b strings.Builder
	b.WriteString("📋 Weekly registrations\n")
	for _, st := range snap.Slots {
		b.WriteString(slotLine(st))
		b.WriteByte('\n')
	}
	if len(snap.AdHoc) > 0 {
		b.WriteString("\n🗓 Proposed times\n")
		for _, req := range snap.AdHoc {
			line := fmt.Sprintf("• %s %s by %s", req.Date, req.Time, req.User.DisplayName())
			if req.Note != "" {
				line += " (" + req.Note + ")"
			}
			b.WriteString(truncateRunes(line, namesLineMax+20))
			b.WriteByte('\n')
		}
	}
	b.WriteByte('\n')
	b.WriteString(resetFooter(resetLabel, snap.TakenAt, next))
	return b.String()
}

func resetFooter(label string, now, next time.Time) string {
	if label == "" {
		label = "monday 00:00"
	}
	s := "Registrations reset every " + label
	if !next.IsZero() && next.After(now) {
		s += " (next in " + humanDuration(next.Sub(now)) + ")"
	}
	return s + "."
}

func humanDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	mins := int(d / time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

func slotList(keys []registry.SlotKey) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k.Label())
	}
	return strings.Join(parts, ", ")
}

func joinReply(out registry.Outcome, m registry.Member, key registry.SlotKey, count, capacity int, valid []registry.SlotKey) string {
	switch out {
	case registry.OK:
		return fmt.Sprintf("✅ %s joined %s (%d/%d).", m.DisplayName(), key.Label(), count, capacity)
	case registry.AlreadyRegistered:
		return fmt.Sprintf("You are already registered for %s.", key.Label())
	case registry.SlotFull:
		return fmt.Sprintf("⛔ %s is full (%d/%d).", key.Label(), capacity, capacity)
	case registry.InvalidSlot:
		return invalidSlotReply(valid)
	default:
		return "Could not join: " + out.String()
	}
}

func cancelReply(out registry.Outcome, m registry.Member, key registry.SlotKey, valid []registry.SlotKey) string {
	switch out {
	case registry.OK:
		return fmt.Sprintf("❎ %s cancelled %s.", m.DisplayName(), key.Label())
	case registry.NotRegistered:
		return fmt.Sprintf("You are not registered for %s.", key.Label())
	case registry.InvalidSlot:
		return invalidSlotReply(valid)
	default:
		return "Could not cancel: " + out.String()
	}
}

func proposeReply(out registry.Outcome, req registry.AdHocRequest) string {
	switch out {
	case registry.OK:
		return fmt.Sprintf("📝 Proposal noted: %s %s.", req.Date, req.Time)
	case registry.DuplicateRequest:
		return fmt.Sprintf("You already proposed %s %s.", req.Date, req.Time)
	default:
		return "Usage: /propose <date> <time> [note]"
	}
}

func invalidSlotReply(valid []registry.SlotKey) string {
	return "Unknown slot. Valid slots: " + slotList(valid)
}

func helpText(valid []registry.SlotKey, capacity int, resetLabel string) string {
	var b strings.Builder
	b.WriteString("Weekly slot registration\n\n")
	for _, c := range commandTable {
		b.WriteString("/" + c.name)
		if c.usage != "" {
			b.WriteString(" " + c.usage)
		}
		b.WriteString(" - " + c.desc + "\n")
	}
	fmt.Fprintf(&b, "\nSlots: %s (max %d each)\n", slotList(valid), capacity)
	b.WriteString("Example: /join sat 15\n")
	if resetLabel != "" {
		b.WriteString("Registrations reset every " + resetLabel + ".")
	}
	return strings.TrimRight(b.String(), "\n")
}
