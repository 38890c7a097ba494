// Package gc implements the Stale-Interest GC (§4.10): a 60s loop that
// marks Interests stale once they have no active downstream connection, no
// recent disconnect, and no recent heartbeat, then deletes them once their
// grace period elapses. Grounded on the teacher's periodic-sweep goroutine
// idiom (pkg/cleanup), adapted from artifact-retention sweeping to
// Interest-row liveness.
package gc

import (
	"context"
	"log/slog"
	"time"

	"github.com/kwld/twitch-service/internal/metrics"
	"github.com/kwld/twitch-service/internal/models"
	"github.com/kwld/twitch-service/internal/registry"
	"github.com/kwld/twitch-service/internal/store"
)

// DefaultInterval matches gc_interval's documented default.
const DefaultInterval = 60 * time.Second

// DefaultDisconnectGrace matches interest_disconnect_grace's default.
const DefaultDisconnectGrace = 15 * time.Minute

// DefaultHeartbeatTimeout matches interest_heartbeat_timeout's default.
const DefaultHeartbeatTimeout = 30 * time.Minute

// DefaultUnsubscribeAfterStale matches interest_unsubscribe_after_stale's default.
const DefaultUnsubscribeAfterStale = 24 * time.Hour

// ActiveWSChecker reports whether a consumer currently holds a downstream-WS
// connection.
type ActiveWSChecker interface {
	HasActiveWS(consumerID string) bool
}

// RemovalHook is invoked after an Interest row is deleted, so the caller can
// tear down the upstream Subscription and ChannelState once nobody else
// references the key.
type RemovalHook interface {
	OnInterestRemoved(ctx context.Context, key models.InterestKey, stillUsedByOthers bool)
}

// Config holds the GC's tunables.
type Config struct {
	Interval              time.Duration
	DisconnectGrace       time.Duration
	HeartbeatTimeout      time.Duration
	UnsubscribeAfterStale time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = DefaultDisconnectGrace
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.UnsubscribeAfterStale <= 0 {
		c.UnsubscribeAfterStale = DefaultUnsubscribeAfterStale
	}
	return c
}

// GC is the process-wide Stale-Interest GC.
type GC struct {
	store    *store.Client
	registry *registry.Registry
	hub      ActiveWSChecker
	hook     RemovalHook
	cfg      Config
	now      func() time.Time
	log      *slog.Logger
}

// New builds a GC.
func New(st *store.Client, reg *registry.Registry, hub ActiveWSChecker, hook RemovalHook, cfg Config, log *slog.Logger) *GC {
	if log == nil {
		log = slog.Default()
	}
	return &GC{
		store:    st,
		registry: reg,
		hub:      hub,
		hook:     hook,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		log:      log,
	}
}

// Run blocks, sweeping every cfg.Interval until ctx is cancelled.
func (g *GC) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep(ctx)
		}
	}
}

// Sweep performs one pass over every live Interest.
func (g *GC) Sweep(ctx context.Context) {
	metrics.GCSweepsTotal.Inc()
	now := g.now()
	for _, in := range g.registry.All() {
		g.evaluate(ctx, in, now)
	}
}

func (g *GC) evaluate(ctx context.Context, in models.Interest, now time.Time) {
	activeWS := g.hub != nil && g.hub.HasActiveWS(in.ConsumerID)
	disconnectInGrace := g.disconnectInGrace(ctx, in.ConsumerID, now)
	heartbeatFresh := now.Sub(in.LastHeartbeat) <= g.cfg.HeartbeatTimeout

	if activeWS || disconnectInGrace || heartbeatFresh {
		if in.StaleMarkedAt != nil {
			in.StaleMarkedAt = nil
			in.DeleteAfter = nil
			if err := g.store.Interests.ClearStaleMarks(ctx, in.ID); err != nil {
				g.log.Warn("gc: clear stale marks", "interest_id", in.ID, "error", err)
			}
			g.registry.Replace(in)
		}
		return
	}

	if in.StaleMarkedAt == nil {
		markedAt := now
		deleteAfter := markedAt.Add(g.cfg.UnsubscribeAfterStale)
		in.StaleMarkedAt = &markedAt
		in.DeleteAfter = &deleteAfter
		if err := g.store.Interests.SetStaleMarks(ctx, in.ID, &markedAt, &deleteAfter); err != nil {
			g.log.Warn("gc: set stale marks", "interest_id", in.ID, "error", err)
			return
		}
		g.registry.Replace(in)
		return
	}

	if in.DeleteAfter != nil && !now.Before(*in.DeleteAfter) {
		g.deleteInterest(ctx, in)
	}
}

func (g *GC) disconnectInGrace(ctx context.Context, consumerID string, now time.Time) bool {
	stats, err := g.store.RuntimeStats.Get(ctx, consumerID)
	if err != nil || stats.LastDisconnectAt == nil {
		return false
	}
	return now.Sub(*stats.LastDisconnectAt) <= g.cfg.DisconnectGrace
}

func (g *GC) deleteInterest(ctx context.Context, in models.Interest) {
	key, stillUsed := g.registry.Remove(in.ID)
	if err := g.store.Interests.Delete(ctx, in.ID); err != nil {
		g.log.Warn("gc: delete stale interest", "interest_id", in.ID, "error", err)
	}
	metrics.GCInterestsDeletedTotal.Inc()
	g.log.Info("deleted stale interest", "interest_id", in.ID, "key", key)
	if g.hook != nil {
		g.hook.OnInterestRemoved(ctx, key, stillUsed)
	}
}
