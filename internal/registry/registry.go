package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"ckbot/internal/clock"
	"ckbot/internal/eventbus"
	"ckbot/pkg/logx"
)

const (
	DefaultMaxPlayers  = 10
	defaultSaveTimeout = 10 * time.Second
)

// Persister receives full State copies after each mutation.
type Persister interface {
	Save(ctx context.Context, st State) error
}

type Config struct {
	MaxPlayers  int
	Catalog     Catalog
	SaveTimeout time.Duration
}

type Deps struct {
	Store Persister
	Bus   eventbus.Bus
	Log   logx.Logger
	Clock clock.Clock
}

var ErrInvalidCapacity = errors.New("registry: max players must be positive")

type Registry struct {
	cfg   Config
	store Persister
	bus   eventbus.Bus
	log   logx.Logger
	clock clock.Clock

	mu      sync.Mutex
	slots   map[SlotKey][]Member
	adhoc   []AdHocRequest
	version uint64

	saveMu   sync.Mutex
	savedVer uint64
}

func New(cfg Config, deps Deps) (*Registry, error) {
	if cfg.MaxPlayers <= 0 {
		return nil, ErrInvalidCapacity
	}
	if cfg.Catalog.Len() == 0 {
		return nil, ErrEmptyCatalog
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = defaultSaveTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewReal()
	}
	r := &Registry{
		cfg:   cfg,
		store: deps.Store,
		bus:   deps.Bus,
		log:   deps.Log.With(logx.String("comp", "registry")),
		clock: deps.Clock,
		slots: map[SlotKey][]Member{},
	}
	for _, k := range cfg.Catalog.keys {
		r.slots[k] = nil
	}
	return r, nil
}

func (r *Registry) Capacity() int { return r.cfg.MaxPlayers }

// Slots returns the configured slot keys in order.
func (r *Registry) Slots() []SlotKey { return r.cfg.Catalog.Keys() }

// ParseSlot resolves user input to a configured slot.
func (r *Registry) ParseSlot(day, hour string) (SlotKey, bool) {
	return r.cfg.Catalog.Parse(day, hour)
}

// Join adds m to the slot. Validity, membership and capacity are checked in
// that order under one lock together with the append.
func (r *Registry) Join(ctx context.Context, key SlotKey, m Member) Outcome {
	out, _ := r.JoinCount(ctx, key, m)
	return out
}

// JoinCount is Join that also returns the slot's member count as seen by
// this call: right after the append on OK, at rejection time otherwise.
func (r *Registry) JoinCount(ctx context.Context, key SlotKey, m Member) (Outcome, int) {
	if strings.TrimSpace(m.ID) == "" {
		return InvalidRequest, 0
	}
	r.mu.Lock()
	list, ok := r.slots[key]
	if !ok {
		r.mu.Unlock()
		return InvalidSlot, 0
	}
	for _, x := range list {
		if x.ID == m.ID {
			r.mu.Unlock()
			return AlreadyRegistered, len(list)
		}
	}
	if len(list) >= r.cfg.MaxPlayers {
		r.mu.Unlock()
		return SlotFull, len(list)
	}
	r.slots[key] = append(list, m)
	count := len(r.slots[key])
	st, ver := r.captureLocked()
	r.mu.Unlock()

	r.persist(ctx, st, ver)
	r.publish(eventbus.TypeJoin, SlotEvent{Slot: key, Member: m, Count: count})
	r.log.Debug("joined", logx.String("slot", key.String()), logx.String("user", m.ID), logx.Int("count", count))
	return OK, count
}

// Cancel removes userID from the slot, keeping the order of the rest.
func (r *Registry) Cancel(ctx context.Context, key SlotKey, userID string) Outcome {
	r.mu.Lock()
	list, ok := r.slots[key]
	if !ok {
		r.mu.Unlock()
		return InvalidSlot
	}
	idx := -1
	for i, x := range list {
		if x.ID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return NotRegistered
	}
	removed := list[idx]
	next := make([]Member, 0, len(list)-1)
	next = append(next, list[:idx]...)
	next = append(next, list[idx+1:]...)
	r.slots[key] = next
	count := len(next)
	st, ver := r.captureLocked()
	r.mu.Unlock()

	r.persist(ctx, st, ver)
	r.publish(eventbus.TypeCancel, SlotEvent{Slot: key, Member: removed, Count: count})
	r.log.Debug("cancelled", logx.String("slot", key.String()), logx.String("user", userID), logx.Int("count", count))
	return OK
}

// ProposeAdHoc appends req to the ad-hoc log. Date and time labels are
// trimmed before the duplicate check.
func (r *Registry) ProposeAdHoc(ctx context.Context, req AdHocRequest) Outcome {
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	req.Note = strings.TrimSpace(req.Note)
	if req.Date == "" || req.Time == "" || strings.TrimSpace(req.User.ID) == "" {
		return InvalidRequest
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = r.clock.Now()
	}

	r.mu.Lock()
	for _, x := range r.adhoc {
		if x.sameAs(req) {
			r.mu.Unlock()
			return DuplicateRequest
		}
	}
	r.adhoc = append(r.adhoc, req)
	st, ver := r.captureLocked()
	r.mu.Unlock()

	r.persist(ctx, st, ver)
	r.publish(eventbus.TypeAdHoc, req)
	r.log.Debug("ad-hoc proposed", logx.String("user", req.User.ID), logx.String("date", req.Date), logx.String("time", req.Time))
	return OK
}

// Remaining returns the free places in the slot, never negative.
func (r *Registry) Remaining(key SlotKey) (int, Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := r.slots[key]
	if !ok {
		return 0, InvalidSlot
	}
	return max(r.cfg.MaxPlayers-len(list), 0), OK
}

// Status copies the full state out under the lock.
func (r *Registry) Status() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		TakenAt:  r.clock.Now(),
		Capacity: r.cfg.MaxPlayers,
		Slots:    make([]SlotStatus, 0, len(r.cfg.Catalog.keys)),
	}
	for _, k := range r.cfg.Catalog.keys {
		list := r.slots[k]
		snap.Slots = append(snap.Slots, SlotStatus{
			Key:       k,
			Members:   append([]Member(nil), list...),
			Count:     len(list),
			Remaining: max(r.cfg.MaxPlayers-len(list), 0),
			Capacity:  r.cfg.MaxPlayers,
		})
	}
	snap.AdHoc = append([]AdHocRequest(nil), r.adhoc...)
	return snap
}

// Reset clears every slot and the ad-hoc log in one critical section.
func (r *Registry) Reset(ctx context.Context) ResetResult {
	r.mu.Lock()
	var res ResetResult
	for k, list := range r.slots {
		res.Cleared += len(list)
		r.slots[k] = nil
	}
	res.AdHocCleared = len(r.adhoc)
	r.adhoc = nil
	st, ver := r.captureLocked()
	r.mu.Unlock()

	r.persist(ctx, st, ver)
	r.publish(eventbus.TypeReset, ResetEvent{ResetResult: res, At: r.clock.Now()})
	r.log.Info("registrations reset", logx.Int("cleared", res.Cleared), logx.Int("adhoc_cleared", res.AdHocCleared))
	return res
}

// Restore replaces the in-memory state with st, normalised against the
// catalog and capacity. It does not write back to the store.
func (r *Registry) Restore(st State) RestoreReport {
	var rep RestoreReport
	slots := map[SlotKey][]Member{}
	for _, k := range r.cfg.Catalog.keys {
		slots[k] = nil
	}

	unknown := map[string]struct{}{}
	for k, list := range st.Slots {
		if !r.cfg.Catalog.Contains(k) {
			unknown[k.String()] = struct{}{}
			continue
		}
		seen := map[string]struct{}{}
		out := make([]Member, 0, len(list))
		for _, m := range list {
			if strings.TrimSpace(m.ID) == "" {
				rep.Duplicates++
				continue
			}
			if _, dup := seen[m.ID]; dup {
				rep.Duplicates++
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
		if len(out) > r.cfg.MaxPlayers {
			rep.Truncated += len(out) - r.cfg.MaxPlayers
			out = out[:r.cfg.MaxPlayers]
		}
		slots[k] = out
		rep.Members += len(out)
	}
	for k := range unknown {
		rep.UnknownSlots = append(rep.UnknownSlots, k)
	}
	sort.Strings(rep.UnknownSlots)

	var adhoc []AdHocRequest
	for _, req := range st.AdHoc {
		req.Date = strings.TrimSpace(req.Date)
		req.Time = strings.TrimSpace(req.Time)
		dup := false
		for _, x := range adhoc {
			if x.sameAs(req) {
				dup = true
				break
			}
		}
		if dup {
			rep.AdHocDupes++
			continue
		}
		adhoc = append(adhoc, req)
	}
	rep.AdHoc = len(adhoc)

	r.mu.Lock()
	r.slots = slots
	r.adhoc = adhoc
	r.version++
	r.mu.Unlock()

	if !rep.Clean() {
		r.log.Warn("restored state normalised",
			logx.Any("unknown_slots", rep.UnknownSlots),
			logx.Int("duplicates", rep.Duplicates),
			logx.Int("truncated", rep.Truncated),
			logx.Int("adhoc_duplicates", rep.AdHocDupes),
		)
	}
	return rep
}

// State returns a deep copy of the current aggregate.
func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, _ := r.captureLocked()
	return st
}

// Flush saves the current state even if nothing changed, e.g. on shutdown.
// The state is captured while holding saveMu, so a mutation saved in the
// meantime is never overwritten by an older copy.
func (r *Registry) Flush(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	st, ver := r.captureLocked()
	r.mu.Unlock()

	if err := r.store.Save(ctx, st); err != nil {
		return err
	}
	r.savedVer = ver
	return nil
}

func (r *Registry) captureLocked() (State, uint64) {
	r.version++
	st := State{Slots: make(map[SlotKey][]Member, len(r.slots))}
	for k, v := range r.slots {
		st.Slots[k] = append([]Member(nil), v...)
	}
	if len(r.adhoc) > 0 {
		st.AdHoc = append([]AdHocRequest(nil), r.adhoc...)
	}
	return st, r.version
}

// persist writes st unless a newer version has already been saved. Saves
// never run under r.mu.
func (r *Registry) persist(ctx context.Context, st State, ver uint64) {
	if r.store == nil {
		return
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	if ver <= r.savedVer {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SaveTimeout)
	defer cancel()
	if err := r.store.Save(sctx, st); err != nil {
		r.log.Error("save failed; keeping in-memory state", logx.Err(err), logx.Uint64("version", ver))
		return
	}
	r.savedVer = ver
}

func (r *Registry) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.clock.Now(), Data: data})
}
