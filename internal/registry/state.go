package registry

import (
	"strings"
	"time"
)

// Member is a registered participant. ID is the identity used for uniqueness;
// Name is only for display.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DisplayName falls back to the ID when no name is known.
func (m Member) DisplayName() string {
	if n := strings.TrimSpace(m.Name); n != "" {
		return n
	}
	return m.ID
}

// AdHocRequest is a proposal for a slot outside the fixed enumeration.
// (User.ID, Date, Time) is unique within the log.
type AdHocRequest struct {
	User      Member    `json:"user"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func (r AdHocRequest) sameAs(o AdHocRequest) bool {
	return r.User.ID == o.User.ID && r.Date == o.Date && r.Time == o.Time
}

// State is the whole registry aggregate: the unit of persistence and of the
// weekly reset.
type State struct {
	Slots map[SlotKey][]Member
	AdHoc []AdHocRequest
}

// Clone deep-copies s.
func (s State) Clone() State {
	out := State{Slots: make(map[SlotKey][]Member, len(s.Slots))}
	for k, v := range s.Slots {
		out.Slots[k] = append([]Member(nil), v...)
	}
	if len(s.AdHoc) > 0 {
		out.AdHoc = append([]AdHocRequest(nil), s.AdHoc...)
	}
	return out
}

// Members counts registrations across all slots.
func (s State) Members() int {
	n := 0
	for _, v := range s.Slots {
		n += len(v)
	}
	return n
}

// IsEmpty reports whether there are no registrations and no ad-hoc requests.
func (s State) IsEmpty() bool { return s.Members() == 0 && len(s.AdHoc) == 0 }

// SlotStatus is one fixed slot inside a Snapshot.
type SlotStatus struct {
	Key       SlotKey
	Members   []Member
	Count     int
	Remaining int
	Capacity  int
}

// Snapshot is an immutable copy of the registry for rendering.
type Snapshot struct {
	TakenAt  time.Time
	Capacity int
	Slots    []SlotStatus
	AdHoc    []AdHocRequest
}

// Slot looks up one slot by key.
func (s Snapshot) Slot(k SlotKey) (SlotStatus, bool) {
	for _, st := range s.Slots {
		if st.Key == k {
			return st, true
		}
	}
	return SlotStatus{}, false
}

// ResetResult reports what a reset cleared.
type ResetResult struct {
	Cleared      int
	AdHocCleared int
}

// RestoreReport lists what was dropped while restoring a persisted State.
type RestoreReport struct {
	UnknownSlots []string
	Duplicates   int
	Truncated    int
	AdHocDupes   int
	Members      int
	AdHoc        int
}

// Clean reports whether the persisted State was restored unchanged.
func (r RestoreReport) Clean() bool {
	return len(r.UnknownSlots) == 0 && r.Duplicates == 0 && r.Truncated == 0 && r.AdHocDupes == 0
}

// SlotEvent is the payload of join and cancel events.
type SlotEvent struct {
	Slot   SlotKey
	Member Member
	Count  int
}

// ResetEvent is the payload of reset events.
type ResetEvent struct {
	ResetResult
	At time.Time
}
