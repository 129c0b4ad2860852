package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/WorldSprites/websocket-server/domain"
)

// Monitor drives the relay's periodic tick: liveness probes, rate-limit
// window resets, and room membership pushes.
type Monitor struct {
	relay    *Relay
	interval time.Duration
}

func NewMonitor(r *Relay, interval time.Duration) *Monitor {
	return &Monitor{relay: r, interval: interval}
}

// Run ticks until the context is cancelled. Call it in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.relay.Tick()
		}
	}
}

// Tick runs one monitor pass over every session, then refreshes room
// membership snapshots. Sessions terminated or closed here are reaped by
// their transport's close path, not removed directly.
func (r *Relay) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.reg.sessions {
		if !s.alive {
			slog.Warn("terminating unresponsive session", "identity", s.Identity)
			r.met.SessionsEvicted.WithLabelValues("liveness").Inc()
			if err := s.Link.Terminate(); err != nil {
				slog.Warn("terminate failed", "identity", s.Identity, "error", err)
			}
			continue
		}

		s.alive = false
		if err := s.Link.Ping(); err != nil {
			slog.Warn("liveness probe failed", "identity", s.Identity, "error", err)
		}

		if s.packets >= 2*r.cfg.MaxPacketsPerInterval {
			slog.Warn("closing session over hard rate cap", "identity", s.Identity, "packets", s.packets)
			r.met.SessionsEvicted.WithLabelValues("ratelimit").Inc()
			if err := s.Link.Close(domain.ClosePolicyViolation, "Ratelimit exceeded"); err != nil {
				slog.Warn("rate-limit close failed", "identity", s.Identity, "error", err)
			}
			continue
		}

		s.packets = 0
		s.rateLimited = false
	}

	for _, room := range r.reg.rooms {
		r.pushUserlist(room)
	}
}
