// Package hub is the Downstream Event Hub (§4.3): it tracks the set of
// downstream-WS connections per consumer, publishes envelopes to all of a
// consumer's connections, and posts envelopes to consumer webhooks. Grounded
// on the teacher's events.ConnectionManager (pkg/events/manager.go)
// register/unregister/broadcast discipline — its PostgreSQL LISTEN/NOTIFY
// catchup machinery is not carried forward (§4.3 has no replay concept; see
// DESIGN.md).
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/kwld/twitch-service/internal/metrics"
)

// connection is one downstream-WS socket bound to a consumer. writeMu
// serializes writes to this specific socket so two Publish calls for the
// same consumer hit the wire in the order they were issued (P7), without
// holding the Hub's connection-registry mutex across network I/O.
type connection struct {
	id       string
	consumer string
	conn     *websocket.Conn
	writeMu  sync.Mutex
}

// Hooks are lifecycle callbacks the Hub invokes for ConsumerRuntimeStats
// bookkeeping. Any hook left nil is skipped.
type Hooks struct {
	OnConsumerConnect    func(consumerID string)
	OnConsumerDisconnect func(consumerID string)
	OnWSSent             func(consumerID string)
	OnWebhookSent        func(consumerID string)
}

// Hub is the process-wide Downstream Event Hub.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[string]*connection // consumerID -> connID -> connection

	writeTimeout time.Duration
	hooks        Hooks
	log          *slog.Logger

	webhook *WebhookSender
}

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithWriteTimeout overrides the default 10s downstream-WS write timeout.
func WithWriteTimeout(d time.Duration) Option { return func(h *Hub) { h.writeTimeout = d } }

// WithHooks attaches lifecycle callbacks.
func WithHooks(hooks Hooks) Option { return func(h *Hub) { h.hooks = hooks } }

// WithLogger attaches a logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(h *Hub) { h.log = l } }

// WithWebhookSender overrides the default webhook sender (used by tests to
// inject a fake HTTP transport).
func WithWebhookSender(w *WebhookSender) Option { return func(h *Hub) { h.webhook = w } }

// New creates an empty Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		conns:        make(map[string]map[string]*connection),
		writeTimeout: 10 * time.Second,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.webhook == nil {
		h.webhook = NewWebhookSender(10 * time.Second)
	}
	return h
}

// Connect registers a new downstream-WS connection for consumerID and
// returns its connection id. The caller owns the socket's read loop; Hub
// only ever writes to it.
func (h *Hub) Connect(consumerID string, conn *websocket.Conn) string {
	connID := uuid.New().String()
	c := &connection{id: connID, consumer: consumerID, conn: conn}

	h.mu.Lock()
	if h.conns[consumerID] == nil {
		h.conns[consumerID] = make(map[string]*connection)
	}
	h.conns[consumerID][connID] = c
	h.mu.Unlock()
	metrics.DownstreamConnectionsActive.Inc()

	if h.hooks.OnConsumerConnect != nil {
		h.hooks.OnConsumerConnect(consumerID)
	}
	return connID
}

// Disconnect removes a connection and, if it was the consumer's last one,
// fires OnConsumerDisconnect.
func (h *Hub) Disconnect(consumerID, connID string) {
	removed, last := h.removeConn(consumerID, connID)
	if removed {
		metrics.DownstreamConnectionsActive.Dec()
	}
	if last && h.hooks.OnConsumerDisconnect != nil {
		h.hooks.OnConsumerDisconnect(consumerID)
	}
}

// removeConn deletes connID from consumerID's connection set under h.mu and
// reports whether it was present and whether it was the consumer's last
// connection.
func (h *Hub) removeConn(consumerID, connID string) (removed, last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[consumerID]
	if !ok {
		return false, false
	}
	if _, present := set[connID]; present {
		removed = true
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(h.conns, consumerID)
		last = true
	}
	return removed, last
}

// ActiveWSCount reports how many downstream-WS connections consumerID
// currently holds.
func (h *Hub) ActiveWSCount(consumerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[consumerID])
}

// HasActiveWS reports whether consumerID holds at least one downstream-WS
// connection — used by the GC's liveness check.
func (h *Hub) HasActiveWS(consumerID string) bool {
	return h.ActiveWSCount(consumerID) > 0
}

// AnyActiveWS reports whether any consumer currently holds a downstream-WS
// connection — used by the Session Machine's cooldown-suspend predicate.
func (h *Hub) AnyActiveWS() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns) > 0
}

// snapshotConns copies the connection pointers for consumerID without
// holding h.mu during the subsequent writes.
func (h *Hub) snapshotConns(consumerID string) []*connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.conns[consumerID]
	out := make([]*connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// PublishWS delivers env to every downstream-WS connection consumerID
// currently holds. Called synchronously and in the Pipeline's dispatch
// order, so two successive PublishWS calls for the same consumer write to
// the wire in that same order (P7).
func (h *Hub) PublishWS(ctx context.Context, consumerID string, env Envelope) {
	conns := h.snapshotConns(consumerID)
	if len(conns) == 0 {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("failed to marshal envelope", "error", err)
		return
	}
	for _, c := range conns {
		if err := h.write(ctx, c, data); err != nil {
			h.log.Warn("failed to write to downstream-WS connection",
				"consumer_id", consumerID, "connection_id", c.id, "error", err)
			removed, last := h.removeConn(consumerID, c.id)
			if removed {
				metrics.DownstreamConnectionsActive.Dec()
			}
			if last && h.hooks.OnConsumerDisconnect != nil {
				h.hooks.OnConsumerDisconnect(consumerID)
			}
			continue
		}
		metrics.DownstreamEventsSentTotal.WithLabelValues("websocket").Inc()
		if h.hooks.OnWSSent != nil {
			h.hooks.OnWSSent(consumerID)
		}
	}
}

func (h *Hub) write(ctx context.Context, c *connection, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// PublishWebhook POSTs env to targetURL. Errors are returned (not
// swallowed) so the Pipeline can write an outgoing EventTrace row noting
// the failure; delivery to other consumers is never blocked by one
// consumer's webhook failing.
func (h *Hub) PublishWebhook(ctx context.Context, consumerID, targetURL string, env Envelope) error {
	if err := h.webhook.Send(ctx, targetURL, env); err != nil {
		return fmt.Errorf("hub: webhook delivery to consumer %s: %w", consumerID, err)
	}
	metrics.DownstreamEventsSentTotal.WithLabelValues("webhook").Inc()
	if h.hooks.OnWebhookSent != nil {
		h.hooks.OnWebhookSent(consumerID)
	}
	return nil
}
