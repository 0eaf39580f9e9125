package storage

import (
	"sort"
	"time"

	"ckbot/internal/registry"
	"ckbot/pkg/logx"
)

const snapshotVersion = 1

// snapshot is the on-disk JSON layout of the file driver.
type snapshot struct {
	Version int                          `json:"version"`
	SavedAt time.Time                    `json:"saved_at"`
	Slots   map[string][]registry.Member `json:"slots"`
	AdHoc   []registry.AdHocRequest      `json:"adhoc"`
}

func toSnapshot(st registry.State, now time.Time) snapshot {
	s := snapshot{
		Version: snapshotVersion,
		SavedAt: now.UTC(),
		Slots:   make(map[string][]registry.Member, len(st.Slots)),
		AdHoc:   st.AdHoc,
	}
	for k, list := range st.Slots {
		if list == nil {
			list = []registry.Member{}
		}
		s.Slots[k.String()] = list
	}
	if s.AdHoc == nil {
		s.AdHoc = []registry.AdHocRequest{}
	}
	return s
}

// fromSnapshot skips slot keys it cannot parse; the registry drops keys it
// does not know on restore.
func fromSnapshot(s snapshot, log logx.Logger) registry.State {
	st := emptyState()
	for raw, list := range s.Slots {
		k, err := registry.ParseSlotKey(raw)
		if err != nil {
			log.Warn("skipping unreadable slot key", logx.String("slot", raw), logx.Err(err))
			continue
		}
		st.Slots[k] = append(st.Slots[k], list...)
	}
	st.AdHoc = append(st.AdHoc, s.AdHoc...)
	return st
}

// row is one registration as stored by the SQL drivers.
type row struct {
	Slot     string
	Position int
	UserID   string
	Name     string
}

func toRows(st registry.State) []row {
	keys := make([]registry.SlotKey, 0, len(st.Slots))
	for k := range st.Slots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var out []row
	for _, k := range keys {
		for i, m := range st.Slots[k] {
			out = append(out, row{Slot: k.String(), Position: i, UserID: m.ID, Name: m.Name})
		}
	}
	return out
}

// fromRows expects rows ordered by slot, position.
func fromRows(rows []row, adhoc []registry.AdHocRequest, log logx.Logger) registry.State {
	st := emptyState()
	for _, r := range rows {
		k, err := registry.ParseSlotKey(r.Slot)
		if err != nil {
			log.Warn("skipping unreadable slot key", logx.String("slot", r.Slot), logx.Err(err))
			continue
		}
		st.Slots[k] = append(st.Slots[k], registry.Member{ID: r.UserID, Name: r.Name})
	}
	st.AdHoc = adhoc
	return st
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
