// Package wsmachine implements the Upstream-WS Session Machine (§4.7): the
// single long-lived connection to Twitch's EventSub websocket, its state
// transitions, and the frame dispatch loop. Grounded on the teacher's
// pkg/agent session-lifecycle loop (connect/heartbeat/reconnect-with-
// backoff/drain-on-stop), adapted from an agent's control-plane session to
// an EventSub session, and on the teacher's use of cenkalti/backoff for
// its own retry loops.
package wsmachine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"github.com/kwld/twitch-service/internal/dedupe"
	"github.com/kwld/twitch-service/internal/metrics"
	"github.com/kwld/twitch-service/internal/models"
	"github.com/kwld/twitch-service/internal/pipeline"
	"github.com/kwld/twitch-service/internal/registry"
	"github.com/kwld/twitch-service/internal/store"
)

// State is one of the Session Machine's five states (§4.7).
type State int

const (
	Idle State = iota
	Opening
	Active
	Closing
	CooldownSuspended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case CooldownSuspended:
		return "cooldown_suspended"
	default:
		return "unknown"
	}
}

// DefaultCooldown matches ws_listener_cooldown's documented default.
const DefaultCooldown = 15 * time.Minute

// receiveTimeout bounds each receive call so the cooldown predicate is
// re-checked cooperatively without an out-of-band wakeup (§4.7).
const receiveTimeout = 5 * time.Second

// welcomeTimeout bounds the initial handshake read (§5).
const welcomeTimeout = 15 * time.Second

// Reconciler is the subset of reconciler.Reconciler the machine drives on
// welcome/reconnect.
type Reconciler interface {
	Run(ctx context.Context) error
}

// Ensurer is the subset of ensurer.Ensurer the machine drives to bind
// websocket-transport subscriptions to the freshly-opened session.
type Ensurer interface {
	Ensure(ctx context.Context, key models.InterestKey) error
}

// DesiredKeys reports the keys the Interest Registry currently wants.
type DesiredKeys interface {
	Keys() []models.InterestKey
}

// ActiveConsumerChecker reports whether any consumer currently holds a
// downstream-WS connection — part of the CooldownSuspended predicate.
type ActiveConsumerChecker interface {
	AnyActiveWS() bool
}

// Config holds the machine's tunables.
type Config struct {
	URL      string
	Cooldown time.Duration
}

// Machine is the Upstream-WS Session Machine.
type Machine struct {
	mu        sync.Mutex
	state     State
	sessionID string
	connURL   string
	conn      *websocket.Conn

	cfg        Config
	reconciler Reconciler
	ensurer    Ensurer
	desired    DesiredKeys
	registry   *registry.Registry
	consumers  ActiveConsumerChecker
	store      *store.Client
	pipeline   *pipeline.Pipeline
	dedupe     *dedupe.Deduper

	lastConsumerActivity time.Time
	now                  func() time.Time
	log                  *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a Machine. Run must be called to start the control loop.
func New(cfg Config, reconciler Reconciler, ensurer Ensurer, desired DesiredKeys, reg *registry.Registry, consumers ActiveConsumerChecker, st *store.Client, pl *pipeline.Pipeline, dd *dedupe.Deduper, log *slog.Logger) *Machine {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		state:                Idle,
		cfg:                  cfg,
		reconciler:           reconciler,
		ensurer:              ensurer,
		desired:              desired,
		registry:             reg,
		consumers:            consumers,
		store:                st,
		pipeline:             pl,
		dedupe:               dd,
		now:                  time.Now,
		log:                  log,
		stopCh:               make(chan struct{}),
		doneCh:               make(chan struct{}),
		lastConsumerActivity: time.Now(),
	}
}

// CurrentSession reports the machine's current session id and whether it is
// Active — the contract the Ensurer and Reconciler depend on.
func (m *Machine) CurrentSession() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID, m.state == Active
}

// ClearSessionIfStale clears the machine's current session id if it still
// equals sessionID, reporting whether it cleared anything. Used by the
// Ensurer (§4.8 step 9) when upstream reports a subscription create failed
// because the session it named no longer exists: clearing only on a match
// avoids discarding a session id that the Machine has already moved on from
// (e.g. a fresh welcome arrived between the Ensurer's step-1 snapshot and
// this call).
func (m *Machine) ClearSessionIfStale(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionID != sessionID {
		return false
	}
	m.sessionID = ""
	return true
}

// State reports the machine's current state, for diagnostics.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NotifyConsumerDisconnected resets the cooldown clock — called by the Hub's
// OnConsumerDisconnect hook.
func (m *Machine) NotifyConsumerDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastConsumerActivity = m.now()
}

// shouldOpen reports the Idle/CooldownSuspended → Opening predicate (§4.7).
func (m *Machine) shouldOpen() bool {
	hasWSDesiredInterest := false
	hasStreamStateInterest := false
	if m.desired != nil {
		for _, key := range m.desired.Keys() {
			hasWSDesiredInterest = true
			if key.EventType == "stream.online" || key.EventType == "stream.offline" {
				hasStreamStateInterest = true
			}
		}
	}
	if !hasWSDesiredInterest {
		return false
	}
	cooldownElapsed := m.now().Sub(m.lastConsumerActivity) >= m.cfg.Cooldown
	return hasStreamStateInterest || !cooldownElapsed
}

func (m *Machine) shouldSuspend() bool {
	if m.consumers != nil && m.consumers.AnyActiveWS() {
		return false
	}
	if m.now().Sub(m.lastConsumerActivity) < m.cfg.Cooldown {
		return false
	}
	if m.desired != nil {
		for _, key := range m.desired.Keys() {
			if key.EventType == "stream.online" || key.EventType == "stream.offline" {
				return false
			}
		}
	}
	return true
}

// Run drives the control loop until Stop is called. It is meant to run in
// its own goroutine for the lifetime of the process.
func (m *Machine) Run(ctx context.Context) {
	defer close(m.doneCh)
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 3 * time.Second
	boff.MaxInterval = 3 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}

		m.mu.Lock()
		state := m.state
		m.mu.Unlock()

		switch state {
		case Idle, CooldownSuspended:
			if m.shouldOpen() {
				m.setState(Opening)
				continue
			}
			m.sleep(ctx, time.Second)
		case Opening:
			if err := m.open(ctx); err != nil {
				m.log.Warn("wsmachine: open failed, retrying", "error", err)
				m.sleep(ctx, boff.NextBackOff())
				m.setState(Idle)
				continue
			}
			boff.Reset()
			m.setState(Active)
		case Active:
			if m.shouldSuspend() {
				m.closeConn(4000, "cooldown")
				m.setState(CooldownSuspended)
				continue
			}
			if err := m.receiveOnce(ctx); err != nil {
				m.log.Warn("wsmachine: receive loop exited", "error", err)
				m.closeConn(websocket.StatusNormalClosure, "")
				m.setState(Idle)
				m.sleep(ctx, 3*time.Second)
			}
		case Closing:
			return
		}
	}
}

// Stop requests the control loop to exit and waits for it.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

func (m *Machine) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	metrics.UpstreamSessionState.Set(float64(s))
}

func (m *Machine) open(ctx context.Context) error {
	url := m.connURL
	if url == "" {
		url = m.cfg.URL
	}
	dialCtx, cancel := context.WithTimeout(ctx, welcomeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return fmt.Errorf("wsmachine: dial: %w", err)
	}

	var frame frameEnvelope
	if err := readJSON(dialCtx, conn, &frame); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "welcome read failed")
		return fmt.Errorf("wsmachine: read welcome: %w", err)
	}
	if frame.Metadata.MessageType != "session_welcome" {
		_ = conn.Close(websocket.StatusInternalError, "unexpected first frame")
		return fmt.Errorf("wsmachine: expected session_welcome, got %q", frame.Metadata.MessageType)
	}
	sessionID := frame.Payload.Session.ID
	if sessionID == "" {
		_ = conn.Close(websocket.StatusInternalError, "missing session id")
		return fmt.Errorf("wsmachine: welcome frame missing session id")
	}

	m.mu.Lock()
	m.conn = conn
	m.sessionID = sessionID
	m.connURL = url
	m.mu.Unlock()

	m.onSessionReady(ctx)
	return nil
}

// onSessionReady runs the welcome/reconnect-adoption sequence (§4.7:
// "drive the Reconciler, then ensure every websocket-transport desired
// subscription, then refresh channel liveness" — liveness refresh is part
// of the Reconciler's own step 7).
func (m *Machine) onSessionReady(ctx context.Context) {
	if m.reconciler != nil {
		if err := m.reconciler.Run(ctx); err != nil {
			m.log.Warn("wsmachine: reconciler run failed", "error", err)
		}
	}
	if m.ensurer == nil || m.desired == nil {
		return
	}
	for _, key := range m.desired.Keys() {
		if err := m.ensurer.Ensure(ctx, key); err != nil {
			m.log.Warn("wsmachine: ensure desired subscription failed", "key", key, "error", err)
		}
	}
}

func (m *Machine) closeConn(code websocket.StatusCode, reason string) {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.sessionID = ""
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close(code, reason)
	}
}

type frameEnvelope struct {
	Metadata struct {
		MessageType      string `json:"message_type"`
		MessageID        string `json:"message_id"`
		MessageTimestamp string `json:"message_timestamp"`
		SubscriptionType string `json:"subscription_type"`
	} `json:"metadata"`
	Payload struct {
		Session struct {
			ID                      string `json:"id"`
			KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
			ReconnectURL            string `json:"reconnect_url"`
		} `json:"session"`
		Subscription struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Type   string `json:"type"`
		} `json:"subscription"`
		Event json.RawMessage `json:"event"`
	} `json:"payload"`
}

func readJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// receiveOnce reads and dispatches a single frame with the 5s receive
// timeout, so the outer loop re-checks shouldSuspend cooperatively (§4.7).
func (m *Machine) receiveOnce(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("wsmachine: no active connection")
	}

	readCtx, cancel := context.WithTimeout(ctx, receiveTimeout)
	defer cancel()

	var frame frameEnvelope
	err := readJSON(readCtx, conn, &frame)
	if err != nil {
		if readCtx.Err() != nil {
			return nil // timeout: cooperative check point, not a failure
		}
		closeStatus := websocket.CloseStatus(err)
		if closeStatus == 4003 {
			return nil
		}
		return err
	}

	switch frame.Metadata.MessageType {
	case "session_keepalive":
		return nil
	case "session_reconnect":
		return m.handleReconnect(ctx, frame)
	case "notification":
		return m.handleNotification(ctx, frame)
	case "revocation":
		return m.handleRevocation(ctx, frame)
	default:
		return nil
	}
}

func (m *Machine) handleReconnect(ctx context.Context, frame frameEnvelope) error {
	newURL := frame.Payload.Session.ReconnectURL
	if newURL == "" {
		return fmt.Errorf("wsmachine: session_reconnect missing reconnect_url")
	}
	m.closeConn(websocket.StatusNormalClosure, "reconnecting")
	m.mu.Lock()
	m.connURL = newURL
	m.mu.Unlock()
	metrics.UpstreamReconnectsTotal.Inc()
	return m.open(ctx)
}

func (m *Machine) handleNotification(ctx context.Context, frame frameEnvelope) error {
	metrics.UpstreamNotificationsTotal.WithLabelValues(string(pipeline.TransportUpstreamWS)).Inc()
	if m.dedupe != nil && !m.dedupe.IsNew(frame.Metadata.MessageID) {
		metrics.DedupeDroppedTotal.Inc()
		return nil
	}
	if m.pipeline == nil {
		return nil
	}
	var payload map[string]any
	raw, err := json.Marshal(frame.Payload)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	if err := m.pipeline.Handle(ctx, payload, frame.Metadata.MessageID, pipeline.TransportUpstreamWS); err != nil {
		m.log.Warn("wsmachine: pipeline handle failed", "error", err)
	}
	return nil
}

func (m *Machine) handleRevocation(ctx context.Context, frame frameEnvelope) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Subscriptions.MarkRevoked(ctx, frame.Payload.Subscription.ID); err != nil {
		m.log.Warn("wsmachine: mark subscription revoked failed", "error", err)
	}
	return nil
}
