package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ckbot/internal/eventbus"
	"ckbot/pkg/logx"
)

var (
	sat15 = SlotKey{Day: time.Saturday, Hour: "15:00"}
	sat20 = SlotKey{Day: time.Saturday, Hour: "20:00"}
	sun20 = SlotKey{Day: time.Sunday, Hour: "20:00"}
)

type recordingStore struct {
	mu    sync.Mutex
	saves []State
	err   error
}

func (s *recordingStore) Save(_ context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves = append(s.saves, st.Clone())
	return nil
}

func (s *recordingStore) last() (State, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return State{}, 0
	}
	return s.saves[len(s.saves)-1], len(s.saves)
}

func newTestRegistry(t *testing.T, maxPlayers int) (*Registry, *recordingStore) {
	t.Helper()
	store := &recordingStore{}
	r, err := New(Config{MaxPlayers: maxPlayers, Catalog: DefaultCatalog()}, Deps{
		Store: store,
		Log:   logx.Nop(),
		Clock: clockwork.NewFakeClockAt(time.Date(2026, 10, 21, 12, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return r, store
}

func member(i int) Member {
	return Member{ID: fmt.Sprintf("u%d", i), Name: fmt.Sprintf("User %d", i)}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{MaxPlayers: 0, Catalog: DefaultCatalog()}, Deps{})
	require.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New(Config{MaxPlayers: 5}, Deps{})
	require.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestSlotFillsUpToCapacity(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	ctx := context.Background()

	for i := range 10 {
		require.Equal(t, OK, r.Join(ctx, sat15, member(i)), "join %d", i)
	}
	assert.Equal(t, SlotFull, r.Join(ctx, sat15, member(10)))

	left, out := r.Remaining(sat15)
	assert.Equal(t, OK, out)
	assert.Equal(t, 0, left)

	st, ok := r.Status().Slot(sat15)
	require.True(t, ok)
	assert.Equal(t, 10, st.Count)
	assert.NotContains(t, st.Members, member(10))
}

func TestJoinTwiceIsAlreadyRegistered(t *testing.T) {
	r, store := newTestRegistry(t, 10)
	ctx := context.Background()
	alice := Member{ID: "alice", Name: "Alice"}

	require.Equal(t, OK, r.Join(ctx, sun20, alice))
	_, saves := store.last()

	assert.Equal(t, AlreadyRegistered, r.Join(ctx, sun20, alice))
	st, _ := r.Status().Slot(sun20)
	assert.Equal(t, []Member{alice}, st.Members)

	_, after := store.last()
	assert.Equal(t, saves, after, "rejected join must not write")
}

func TestJoinCheckOrder(t *testing.T) {
	r, _ := newTestRegistry(t, 1)
	ctx := context.Background()

	assert.Equal(t, InvalidSlot, r.Join(ctx, SlotKey{Day: time.Monday, Hour: "15:00"}, member(1)))
	require.Equal(t, OK, r.Join(ctx, sat15, member(1)))
	// Already registered wins over full.
	assert.Equal(t, AlreadyRegistered, r.Join(ctx, sat15, member(1)))
	assert.Equal(t, SlotFull, r.Join(ctx, sat15, member(2)))
	assert.Equal(t, InvalidRequest, r.Join(ctx, sat20, Member{ID: " "}))
}

func TestCancelWithoutJoin(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	ctx := context.Background()

	assert.Equal(t, NotRegistered, r.Cancel(ctx, sat15, "bob"))
	assert.Equal(t, InvalidSlot, r.Cancel(ctx, SlotKey{Day: time.Friday, Hour: "15:00"}, "bob"))
}

func TestJoinCancelRoundTrip(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	ctx := context.Background()
	for i := range 3 {
		require.Equal(t, OK, r.Join(ctx, sat20, member(i)))
	}
	before := r.State()

	require.Equal(t, OK, r.Join(ctx, sat20, member(99)))
	require.Equal(t, OK, r.Cancel(ctx, sat20, member(99).ID))

	assert.Equal(t, before, r.State())
}

func TestCancelKeepsOrder(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	ctx := context.Background()
	for i := range 4 {
		require.Equal(t, OK, r.Join(ctx, sat15, member(i)))
	}
	require.Equal(t, OK, r.Cancel(ctx, sat15, member(1).ID))

	st, _ := r.Status().Slot(sat15)
	assert.Equal(t, []Member{member(0), member(2), member(3)}, st.Members)
}

func TestConcurrentJoinsNeverOvercount(t *testing.T) {
	const (
		capacity = 10
		users    = 64
	)
	r, store := newTestRegistry(t, capacity)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[Outcome]int{}
	)
	start := make(chan struct{})
	for i := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out := r.Join(ctx, sat15, member(i))
			mu.Lock()
			results[out]++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, capacity, results[OK])
	assert.Equal(t, users-capacity, results[SlotFull])

	st, _ := r.Status().Slot(sat15)
	assert.Equal(t, capacity, st.Count)
	seen := map[string]bool{}
	for _, m := range st.Members {
		assert.False(t, seen[m.ID], "duplicate %s", m.ID)
		seen[m.ID] = true
	}

	// The last write on disk is the final state, never an older copy.
	last, _ := store.last()
	assert.Len(t, last.Slots[sat15], capacity)
}

func TestConcurrentJoinCancelKeepsInvariants(t *testing.T) {
	r, _ := newTestRegistry(t, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				r.Join(ctx, sat20, member(i))
				r.Cancel(ctx, sat20, member(i).ID)
			}
		}()
	}
	wg.Wait()

	st, _ := r.Status().Slot(sat20)
	assert.Equal(t, 0, st.Count)
	assert.Equal(t, 3, st.Remaining)
}

func TestResetDuringConcurrentMutations(t *testing.T) {
	const (
		capacity = 5
		joiners  = 8
		rounds   = 100
	)
	alice := Member{ID: "alice"}
	for round := range rounds {
		r, store := newTestRegistry(t, capacity)
		ctx := context.Background()

		var (
			wg        sync.WaitGroup
			okJoins   counter
			okAdHoc   counter
			resetDone ResetResult
		)
		start := make(chan struct{})
		for i := range joiners {
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				if r.Join(ctx, sat15, member(i)) == OK {
					okJoins.add()
				}
			}()
			go func() {
				defer wg.Done()
				<-start
				req := AdHocRequest{User: alice, Date: "10/24", Time: fmt.Sprintf("%02d:00", 10+i)}
				if r.ProposeAdHoc(ctx, req) == OK {
					okAdHoc.add()
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resetDone = r.Reset(ctx)
		}()
		close(start)
		wg.Wait()

		st, _ := r.Status().Slot(sat15)
		require.LessOrEqual(t, st.Count, capacity, "round %d", round)
		// Every successful join was either swept by the reset or is still there.
		require.Equal(t, okJoins.get(), resetDone.Cleared+st.Count, "round %d", round)
		require.Equal(t, okAdHoc.get(), resetDone.AdHocCleared+len(r.Status().AdHoc), "round %d", round)

		last, _ := store.last()
		require.Equal(t, memberIDs(st.Members), memberIDs(last.Slots[sat15]), "round %d", round)
		require.Len(t, last.AdHoc, len(r.Status().AdHoc), "round %d", round)
	}
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) add() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func memberIDs(ms []Member) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

// gatedStore blocks the first Save until release is closed.
type gatedStore struct {
	recordingStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Save(ctx context.Context, st State) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.recordingStore.Save(ctx, st)
}

func TestFlushNeverWritesOlderState(t *testing.T) {
	store := &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
	r, err := New(Config{MaxPlayers: 10, Catalog: DefaultCatalog()}, Deps{Store: store, Log: logx.Nop()})
	require.NoError(t, err)
	ctx := context.Background()

	joined := make(chan Outcome, 1)
	go func() { joined <- r.Join(ctx, sat15, member(1)) }()
	<-store.entered

	flushed := make(chan error, 1)
	go func() { flushed <- r.Flush(ctx) }()
	time.Sleep(20 * time.Millisecond)

	// The second join lands while the first save and the flush are both pending.
	second := make(chan Outcome, 1)
	go func() { second <- r.Join(ctx, sat15, member(2)) }()
	require.Eventually(t, func() bool {
		st, _ := r.Status().Slot(sat15)
		return st.Count == 2
	}, time.Second, time.Millisecond)
	close(store.release)
	require.Equal(t, OK, <-joined)
	require.Equal(t, OK, <-second)
	require.NoError(t, <-flushed)

	last, _ := store.last()
	assert.Equal(t, []string{"u1", "u2"}, memberIDs(last.Slots[sat15]))
}

func TestJoinCountReportsOwnAppend(t *testing.T) {
	r, _ := newTestRegistry(t, 2)
	ctx := context.Background()

	out, n := r.JoinCount(ctx, sat15, member(1))
	assert.Equal(t, OK, out)
	assert.Equal(t, 1, n)
	out, n = r.JoinCount(ctx, sat15, member(1))
	assert.Equal(t, AlreadyRegistered, out)
	assert.Equal(t, 1, n)
	out, n = r.JoinCount(ctx, sat15, member(2))
	assert.Equal(t, OK, out)
	assert.Equal(t, 2, n)
	out, n = r.JoinCount(ctx, sat15, member(3))
	assert.Equal(t, SlotFull, out)
	assert.Equal(t, 2, n)
	out, n = r.JoinCount(ctx, SlotKey{Day: time.Monday, Hour: "15:00"}, member(3))
	assert.Equal(t, InvalidSlot, out)
	assert.Zero(t, n)
}

func TestProposeAdHoc(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	ctx := context.Background()
	alice := Member{ID: "alice", Name: "Alice"}

	require.Equal(t, OK, r.ProposeAdHoc(ctx, AdHocRequest{User: alice, Date: "10/24", Time: "18:00", Note: "raid"}))
	assert.Equal(t, DuplicateRequest, r.ProposeAdHoc(ctx, AdHocRequest{User: alice, Date: " 10/24 ", Time: "18:00 "}))
	assert.Equal(t, OK, r.ProposeAdHoc(ctx, AdHocRequest{User: alice, Date: "10/24", Time: "19:00"}))
	assert.Equal(t, OK, r.ProposeAdHoc(ctx, AdHocRequest{User: Member{ID: "bob"}, Date: "10/24", Time: "18:00"}))
	assert.Equal(t, InvalidRequest, r.ProposeAdHoc(ctx, AdHocRequest{User: alice, Date: "", Time: "18:00"}))
	assert.Equal(t, InvalidRequest, r.ProposeAdHoc(ctx, AdHocRequest{User: alice, Date: "10/25", Time: "  "}))

	snap := r.Status()
	require.Len(t, snap.AdHoc, 3)
	assert.Equal(t, "raid", snap.AdHoc[0].Note)
	assert.Equal(t, snap.TakenAt, snap.AdHoc[0].CreatedAt)
}

func TestResetClearsEverything(t *testing.T) {
	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(16)
	defer unsubscribe()

	store := &recordingStore{}
	r, err := New(Config{MaxPlayers: 10, Catalog: DefaultCatalog()}, Deps{Store: store, Bus: bus, Log: logx.Nop()})
	require.NoError(t, err)
	ctx := context.Background()

	require.Equal(t, OK, r.Join(ctx, sat15, member(1)))
	require.Equal(t, OK, r.Join(ctx, sun20, member(2)))
	require.Equal(t, OK, r.ProposeAdHoc(ctx, AdHocRequest{User: member(1), Date: "d", Time: "t"}))

	res := r.Reset(ctx)
	assert.Equal(t, ResetResult{Cleared: 2, AdHocCleared: 1}, res)

	snap := r.Status()
	for _, st := range snap.Slots {
		assert.Zero(t, st.Count, st.Key.String())
		assert.Equal(t, 10, st.Remaining)
	}
	assert.Empty(t, snap.AdHoc)

	last, _ := store.last()
	assert.True(t, last.IsEmpty())
	assert.Len(t, last.Slots, 4)

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{eventbus.TypeJoin, eventbus.TypeJoin, eventbus.TypeAdHoc, eventbus.TypeReset}, types)
}

func TestSaveFailureKeepsMemoryState(t *testing.T) {
	r, store := newTestRegistry(t, 10)
	store.err = errors.New("disk full")

	require.Equal(t, OK, r.Join(context.Background(), sat15, member(1)))
	left, _ := r.Remaining(sat15)
	assert.Equal(t, 9, left)

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	require.NoError(t, r.Flush(context.Background()))
	last, _ := store.last()
	assert.Len(t, last.Slots[sat15], 1)
}

func TestRestoreThenJoin(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	persisted := State{Slots: map[SlotKey][]Member{
		sat15: {member(1), member(2), member(3)},
	}}

	rep := r.Restore(persisted)
	assert.True(t, rep.Clean())
	assert.Equal(t, 3, rep.Members)

	st, _ := r.Status().Slot(sat15)
	assert.Equal(t, []Member{member(1), member(2), member(3)}, st.Members)

	require.Equal(t, OK, r.Join(context.Background(), sat15, member(4)))
	st, _ = r.Status().Slot(sat15)
	assert.Equal(t, 4, st.Count)
}

func TestRestoreNormalises(t *testing.T) {
	r, _ := newTestRegistry(t, 2)
	bogus := SlotKey{Day: time.Wednesday, Hour: "09:00"}
	persisted := State{
		Slots: map[SlotKey][]Member{
			sat15: {member(1), member(1), member(2), member(3)},
			bogus: {member(9)},
		},
		AdHoc: []AdHocRequest{
			{User: member(1), Date: "d", Time: "t"},
			{User: member(1), Date: " d", Time: "t "},
		},
	}

	rep := r.Restore(persisted)
	assert.Equal(t, []string{"wednesday-09:00"}, rep.UnknownSlots)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Equal(t, 1, rep.Truncated)
	assert.Equal(t, 1, rep.AdHocDupes)

	st, _ := r.Status().Slot(sat15)
	assert.Equal(t, []Member{member(1), member(2)}, st.Members)
	assert.Len(t, r.Status().AdHoc, 1)
	_, ok := r.State().Slots[bogus]
	assert.False(t, ok)
}

func TestStatusIsACopy(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	ctx := context.Background()
	require.Equal(t, OK, r.Join(ctx, sat15, member(1)))

	snap := r.Status()
	snap.Slots[0].Members[0].Name = "mutated"
	require.Equal(t, OK, r.Join(ctx, sat15, member(2)))

	st, _ := r.Status().Slot(sat15)
	assert.Equal(t, "User 1", st.Members[0].Name)
	assert.Len(t, snap.Slots[0].Members, 1)
}
