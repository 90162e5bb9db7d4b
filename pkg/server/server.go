// Package server provides the public entry point for initializing the
// enforcement gateway: wiring storage, authentication, the policy/
// budget pipeline, the registries of certified reference agents and
// playbooks, and the HTTP router, into one ready-to-serve handler.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/agentmold/gateway/internal/agentspec"
	"github.com/agentmold/gateway/internal/api"
	"github.com/agentmold/gateway/internal/api/handlers"
	"github.com/agentmold/gateway/internal/auth"
	"github.com/agentmold/gateway/internal/budget"
	"github.com/agentmold/gateway/internal/clock"
	"github.com/agentmold/gateway/internal/config"
	"github.com/agentmold/gateway/internal/gateway"
	"github.com/agentmold/gateway/internal/hooks"
	"github.com/agentmold/gateway/internal/metering"
	"github.com/agentmold/gateway/internal/policy"
	"github.com/agentmold/gateway/internal/ratelimit"
	"github.com/agentmold/gateway/internal/registry"
	"github.com/agentmold/gateway/internal/skills"
	"github.com/agentmold/gateway/internal/store"
	"github.com/agentmold/gateway/internal/telemetry"
	"github.com/agentmold/gateway/pkg/contracts"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized enforcement gateway.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the append-only audit/usage/approval store.
	Store contracts.Store

	// Pipeline is the gateway's RBAC/policy/budget authorization stage.
	Pipeline *gateway.Pipeline

	// Executor runs certified skill playbooks.
	Executor *skills.Executor

	// Agents holds compiled reference AgentSpecs.
	Agents *registry.AgentRegistry

	// Playbooks holds certified SkillPlaybooks.
	Playbooks *registry.PlaybookRegistry

	// AuthChain is the pluggable authentication provider chain. A
	// deployer adds OIDC/SAML/mTLS providers via RegisterProvider().
	AuthChain *auth.ProviderChain

	// Limiter is the per-(tier, customer_id) rate limiter.
	Limiter *ratelimit.Limiter

	// Config is the resolved gateway configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New initializes the gateway from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the gateway with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore := store.NewMemoryStore()
	log.Info().Msg("in-memory store initialized")

	return buildServer(ctx, cfg, dataStore, shutdown)
}

// NewWithStore initializes the gateway with an externally-provided
// store (e.g. a transactional SQL implementation of contracts.Store).
func NewWithStore(ctx context.Context, dataStore contracts.Store, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return buildServer(ctx, cfg, dataStore, shutdown)
}

func buildServer(ctx context.Context, cfg *config.Config, dataStore contracts.Store, shutdown func(context.Context) error) (*Server, error) {
	sysClock := clock.SystemClock{}
	ids := clock.UUIDGenerator{}

	// ── Auth provider chain ──────────────────────────────────
	authChain := auth.NewProviderChain()

	if cfg.Auth.JWTSigningSecret != "" {
		resolver := auth.NewStaticSecretResolver(map[string]string{
			cfg.Auth.JWTIssuer: cfg.Auth.JWTSigningSecret,
		})
		authChain.RegisterProvider(auth.NewJWTBearerProvider(resolver, nil))
	}

	peerProvider := auth.NewPeerEnvelopeProvider(cfg.Auth.PeerSharedSecret)
	if peerProvider.Enabled() {
		authChain.RegisterProvider(peerProvider)
	}

	platformKeys := auth.NewPlatformKeyProvider()
	for _, key := range cfg.Auth.PlatformAPIKeys {
		platformKeys.AddKey(key)
	}
	if platformKeys.Enabled() {
		authChain.RegisterProvider(platformKeys)
	}
	log.Info().Strs("providers", authChain.ListProviders()).Msg("auth provider chain configured")

	// ── Budget evaluator ─────────────────────────────────────
	limits := budget.DefaultLimits()
	limits.AgentDailyCapUSD = cfg.Budget.DefaultAgentDailyCapUSD
	if len(cfg.Budget.CriticalAgentIDs) > 0 {
		critical := make(map[string]bool, len(cfg.Budget.CriticalAgentIDs))
		for _, id := range cfg.Budget.CriticalAgentIDs {
			critical[id] = true
		}
		limits.CriticalAgentIDs = critical
	}
	budgetEvaluator := budget.NewEvaluator(dataStore, dataStore, sysClock, limits)

	// ── Policy decision point ───────────────────────────────
	var pdp contracts.PDPClient
	if cfg.PDP.URL != "" {
		pdp = policy.NewClient(cfg.PDP.URL, &http.Client{Timeout: cfg.PDP.Timeout})
		log.Info().Str("pdp_url", cfg.PDP.URL).Msg("external policy decision point configured")
	} else {
		pdp = policy.NewFallbackSet()
		log.Info().Msg("no AGENTMOLD_PDP_URL configured, using bundled fallback policy set")
	}

	pipeline := gateway.NewPipeline(pdp, budgetEvaluator, dataStore, sysClock, ids)

	// ── Metering envelope verifier ───────────────────────────
	var meteringVerifier contracts.MeteringVerifier
	if cfg.Metering.SharedSecret != "" {
		meteringVerifier = metering.NewVerifier([]byte(cfg.Metering.SharedSecret), cfg.Metering.MaxClockSkew)
	}

	// ── Reference agent + playbook registries ────────────────
	agentSpecSchema, err := compileAgentSpecSchema()
	if err != nil {
		return nil, fmt.Errorf("compile agent spec schema: %w", err)
	}
	agentCompiler := agentspec.NewCompiler(agentSpecSchema, defaultMaterializers())
	agents := registry.NewAgentRegistry()
	playbooks := registry.NewPlaybookRegistry()
	seedCertifiedCatalog(ctx, agentCompiler, agents, playbooks)

	// ── Skill executor ────────────────────────────────────────
	bus := hooks.NewBus()
	executor := skills.NewExecutor(bus, sysClock, ids, defaultChannelAdapters())

	// ── Rate limiter ──────────────────────────────────────────
	limiter := ratelimit.NewLimiter(map[string]int{
		ratelimit.TierTrial:    cfg.RateLimit.TrialPerHour,
		ratelimit.TierPaid:     cfg.RateLimit.PaidPerHour,
		ratelimit.TierGovernor: cfg.RateLimit.GovernorPerHour,
	})

	h := &handlers.Handlers{
		Store:     dataStore,
		Pipeline:  pipeline,
		Executor:  executor,
		Metering:  meteringVerifier,
		Agents:    agents,
		Playbooks: playbooks,
		Clock:     sysClock,
		IDs:       ids,
		Schema:    agentSpecSchemaJSON,
		Limiter:   limiter,
	}

	router := api.NewRouter(cfg, h, authChain, ids, limiter)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Pipeline:     pipeline,
		Executor:     executor,
		Agents:       agents,
		Playbooks:    playbooks,
		AuthChain:    authChain,
		Limiter:      limiter,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// Shutdown flushes telemetry. Should be called on graceful shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ShutdownFunc != nil {
		return s.ShutdownFunc(ctx)
	}
	return nil
}
