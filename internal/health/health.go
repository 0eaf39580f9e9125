// Package health serves the liveness and status endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ckbot/internal/registry"
	"ckbot/internal/reset"
	"ckbot/pkg/logx"
)

const aliveText = "ckbot is alive!"

type Registry interface {
	Status() registry.Snapshot
}

type Scheduler interface {
	State() reset.State
	NextReset() time.Time
	LastReset() (time.Time, registry.ResetResult)
}

type Config struct {
	Addr string
	// Pprof mounts net/http/pprof under /debug.
	Pprof bool
}

type Server struct {
	cfg   Config
	reg   Registry
	sched Scheduler // nil when the weekly reset is disabled
	log   logx.Logger
}

func New(cfg Config, reg Registry, sched Scheduler, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":8080"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, reg: reg, sched: sched, log: log.With(logx.String("comp", "health"))}
}

type slotJSON struct {
	Key       string `json:"key"`
	Count     int    `json:"count"`
	Remaining int    `json:"remaining"`
}

type statusJSON struct {
	Status         string     `json:"status"`
	SchedulerState string     `json:"scheduler_state"`
	NextReset      *time.Time `json:"next_reset,omitempty"`
	LastReset      *time.Time `json:"last_reset,omitempty"`
	Slots          []slotJSON `json:"slots"`
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(aliveText))
		})
		r.Get("/healthz", s.handleStatus)
	})
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	out := statusJSON{Status: "ok", SchedulerState: "disabled", Slots: []slotJSON{}}
	if s.sched != nil {
		out.SchedulerState = s.sched.State().String()
		if next := s.sched.NextReset(); !next.IsZero() {
			out.NextReset = &next
		}
		if last, _ := s.sched.LastReset(); !last.IsZero() {
			out.LastReset = &last
		}
	}
	if s.reg != nil {
		for _, st := range s.reg.Status().Slots {
			out.Slots = append(out.Slots, slotJSON{Key: st.Key.String(), Count: st.Count, Remaining: st.Remaining})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.log.Debug("healthz encode failed", logx.Err(err))
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Pprof && !isLoopbackAddr(s.cfg.Addr) {
		s.log.Warn("pprof exposed on non-loopback addr", logx.String("addr", s.cfg.Addr))
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("health server listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
	}
	<-errCh
	s.log.Info("health server stopped")
	return nil
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
