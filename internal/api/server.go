// Package api implements the Service Boundary (§6): the HTTP/WS surface
// every external actor — administrators, consumers, the upstream webhook
// sender, and downstream-WS clients — talks to. Grounded on the teacher's
// pkg/api Server-struct/route-registration/lifecycle pattern, translated
// from Echo v5 (an import the teacher's own go.mod does not declare — see
// DESIGN.md) onto gin, the HTTP framework the teacher's go.mod and its own
// cmd/tarsy/main.go actually use.
package api

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kwld/twitch-service/internal/chatassets"
	"github.com/kwld/twitch-service/internal/config"
	"github.com/kwld/twitch-service/internal/dedupe"
	"github.com/kwld/twitch-service/internal/ensurer"
	"github.com/kwld/twitch-service/internal/hub"
	"github.com/kwld/twitch-service/internal/metrics"
	"github.com/kwld/twitch-service/internal/models"
	"github.com/kwld/twitch-service/internal/netsec"
	"github.com/kwld/twitch-service/internal/pipeline"
	"github.com/kwld/twitch-service/internal/reconciler"
	"github.com/kwld/twitch-service/internal/redact"
	"github.com/kwld/twitch-service/internal/registry"
	"github.com/kwld/twitch-service/internal/store"
	"github.com/kwld/twitch-service/internal/twitchapi"
	"github.com/kwld/twitch-service/internal/wsmachine"
	"github.com/kwld/twitch-service/internal/wstoken"
)

// SessionProvider reports the Upstream-WS Session Machine's state. NewServer
// stores it; no route handler reads it.
type SessionProvider interface {
	CurrentSession() (sessionID string, connected bool)
	State() wsmachine.State
}

// InterestRemover tears down the upstream Subscription/ChannelState once an
// Interest key is no longer wanted by anyone — the same hook the GC and the
// Pipeline drive, shared here so administrative and consumer-initiated
// deletes converge to the same teardown path.
type InterestRemover interface {
	OnInterestRemoved(ctx context.Context, key models.InterestKey, stillUsedByOthers bool)
}

// Reconciler is the subset of reconciler.Reconciler the API drives on
// demand (the refresh=true query parameter of the active-subscriptions
// endpoint).
type Reconciler interface {
	Run(ctx context.Context) error
}

// Server is the HTTP API server (§6).
type Server struct {
	engine *gin.Engine
	http   *http.Server

	cfg       *config.Config
	store     *store.Client
	registry  *registry.Registry
	hub       *hub.Hub
	tokens    *wstoken.Store
	dedupe    *dedupe.Deduper
	ensurer   *ensurer.Ensurer
	reconcile Reconciler
	session   SessionProvider
	pipeline  *pipeline.Pipeline
	twitch    twitchapi.Client
	chat      *chatassets.Cache
	webhookV  *netsec.WebhookTargetValidator
	redactor  *redact.Service
	remover   InterestRemover
	allowlist []netip.Prefix

	log interface {
		Warn(msg string, args ...any)
		Error(msg string, args ...any)
		Info(msg string, args ...any)
	}
}

// Deps bundles every collaborator NewServer wires into routes. Grouped into
// one struct (rather than a long positional parameter list) because the
// Service Boundary is the one component that legitimately depends on nearly
// every other package in the module.
type Deps struct {
	Config      *config.Config
	Store       *store.Client
	Registry    *registry.Registry
	Hub         *hub.Hub
	Tokens      *wstoken.Store
	Dedupe      *dedupe.Deduper
	Ensurer     *ensurer.Ensurer
	Reconciler  Reconciler
	Session     SessionProvider
	Pipeline    *pipeline.Pipeline
	Twitch      twitchapi.Client
	ChatAssets  *chatassets.Cache
	WebhookAuth *netsec.WebhookTargetValidator
	Redactor    *redact.Service
	Remover     InterestRemover
	Logger      interface {
		Warn(msg string, args ...any)
		Error(msg string, args ...any)
		Info(msg string, args ...any)
	}
}

// NewServer builds a Server and registers every route.
func NewServer(d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:    engine,
		cfg:       d.Config,
		store:     d.Store,
		registry:  d.Registry,
		hub:       d.Hub,
		tokens:    d.Tokens,
		dedupe:    d.Dedupe,
		ensurer:   d.Ensurer,
		reconcile: d.Reconciler,
		session:   d.Session,
		pipeline:  d.Pipeline,
		twitch:    d.Twitch,
		chat:      d.ChatAssets,
		webhookV:  d.WebhookAuth,
		redactor:  d.Redactor,
		remover:   d.Remover,
		log:       d.Logger,
	}
	if s.cfg != nil && len(s.cfg.AppAllowedIPs) > 0 {
		networks, err := netsec.ParseAllowedIPNetworks(strings.Join(s.cfg.AppAllowedIPs, ","))
		if err != nil {
			if s.log != nil {
				s.log.Error("api: invalid APP_ALLOWED_IPS, downstream WS will reject all connections", "error", err)
			}
			// The zero Prefix contains no address, so every client is rejected.
			networks = []netip.Prefix{{}}
		}
		s.allowlist = networks
	}

	s.setupRoutes()
	return s
}

// Engine exposes the underlying gin router, for tests that want to drive
// requests with httptest without a real listener.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) setupRoutes() {
	s.engine.Use(securityHeaders())
	s.engine.Use(metricsMiddleware())

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.engine.POST("/webhooks/eventsub", s.handleUpstreamWebhook)
	s.engine.GET("/ws/events", s.handleDownstreamWS)

	admin := s.engine.Group("/admin", s.requireAdminKey)
	admin.GET("/consumers", s.handleAdminListConsumers)
	admin.POST("/consumers", s.handleAdminCreateConsumer)
	admin.DELETE("/consumers/:id", s.handleAdminDeleteConsumer)
	admin.GET("/bots", s.handleAdminListBots)

	v1 := s.engine.Group("/v1", s.requireConsumerAuth)
	v1.GET("/bots/accessible", s.handleAccessibleBots)

	v1.GET("/interests", s.handleListInterests)
	v1.POST("/interests", s.handleCreateInterest)
	v1.DELETE("/interests/:id", s.handleDeleteInterest)
	v1.POST("/interests/:id/heartbeat", s.handleHeartbeatOne)
	v1.POST("/interests/heartbeat", s.handleHeartbeatAll)

	v1.GET("/subscriptions", s.handleListSubscriptions)
	v1.GET("/subscriptions/transports", s.handleSubscriptionTransports)

	v1.GET("/eventsub/subscriptions/active", s.handleActiveEventSubSubscriptions)
	v1.GET("/eventsub/subscription-types", s.handleEventSubSubscriptionTypes)

	v1.POST("/ws-token", s.handleIssueWSToken)
}

// Start blocks, serving on addr.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
