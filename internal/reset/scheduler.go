// Package reset runs the weekly registration reset.
//
// The Scheduler is one long-lived loop: it computes the next boundary from the
// clock, waits for it, clears the registry and repeats. Boundaries missed
// while the process was down are skipped; after a restart the loop simply
// waits for the next future one.
package reset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ckbot/internal/clock"
	"ckbot/internal/registry"
	"ckbot/pkg/logx"
)

type State int32

const (
	Idle State = iota
	Waiting
	Resetting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Resetting:
		return "resetting"
	default:
		return "unknown"
	}
}

var ErrAlreadyStarted = errors.New("reset: scheduler already started")

// Resetter clears all registrations. *registry.Registry implements it.
type Resetter interface {
	Reset(ctx context.Context) registry.ResetResult
}

type Scheduler struct {
	target   Resetter
	boundary *clock.Weekly
	clock    clock.Clock
	log      logx.Logger

	started atomic.Bool
	state   atomic.Int32
	done    chan struct{}

	mu         sync.Mutex
	next       time.Time
	last       time.Time
	lastResult registry.ResetResult
	sweeps     uint64
	failures   uint64
}

func New(target Resetter, boundary *clock.Weekly, clk clock.Clock, log logx.Logger) *Scheduler {
	if boundary == nil {
		boundary = clock.MondayMidnight(nil)
	}
	if clk == nil {
		clk = clock.NewReal()
	}
	return &Scheduler{
		target:   target,
		boundary: boundary,
		clock:    clk,
		log:      log.With(logx.String("comp", "reset")),
		done:     make(chan struct{}),
	}
}

// Start launches the loop in its own goroutine. Only the first call on a
// Scheduler starts anything; later calls return false.
func (s *Scheduler) Start(ctx context.Context) bool {
	if !s.started.CompareAndSwap(false, true) {
		s.log.Warn("reset scheduler already running; ignoring start")
		return false
	}
	go s.loop(ctx)
	return true
}

// Run is the blocking form of Start, for running under a supervisor.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.loop(ctx)
	return nil
}

// Done is closed when the loop exits.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) State() State { return State(s.state.Load()) }

// NextReset is the boundary the loop is waiting for (zero when idle).
func (s *Scheduler) NextReset() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// LastReset is the time of the last completed sweep and what it cleared.
func (s *Scheduler) LastReset() (time.Time, registry.ResetResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastResult
}

// Boundary describes the configured weekly boundary.
func (s *Scheduler) Boundary() *clock.Weekly { return s.boundary }

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	defer s.state.Store(int32(Idle))

	s.log.Info("reset scheduler started", logx.String("boundary", s.boundary.String()))
	var prev time.Time
	for {
		now := s.clock.Now()
		from := now
		// A timer that fires early must not schedule the same boundary twice.
		if !prev.IsZero() && from.Before(prev) {
			from = prev
		}
		next := s.boundary.Next(from)
		wait := next.Sub(now)

		s.mu.Lock()
		s.next = next
		s.mu.Unlock()
		s.state.Store(int32(Waiting))
		s.log.Info("next reset scheduled", logx.Time("at", next), logx.Duration("in", wait))

		t := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			s.mu.Lock()
			s.next = time.Time{}
			s.mu.Unlock()
			s.log.Info("reset scheduler stopped")
			return
		case <-t.Chan():
		}

		s.state.Store(int32(Resetting))
		if err := s.sweep(ctx); err != nil {
			s.log.Error("reset sweep failed; waiting for next boundary", logx.Err(err))
		}
		prev = next
	}
}

func (s *Scheduler) sweep(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.mu.Lock()
			s.failures++
			s.mu.Unlock()
		}
	}()

	started := s.clock.Now()
	res := s.target.Reset(ctx)

	s.mu.Lock()
	s.last = s.clock.Now()
	s.lastResult = res
	s.sweeps++
	s.mu.Unlock()

	s.log.Info("weekly reset done",
		logx.Int("cleared", res.Cleared),
		logx.Int("adhoc_cleared", res.AdHocCleared),
		logx.Duration("took", s.clock.Since(started)),
	)
	return nil
}

// Stats are cumulative sweep counters.
type Stats struct {
	Sweeps   uint64
	Failures uint64
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Sweeps: s.sweeps, Failures: s.failures}
}
