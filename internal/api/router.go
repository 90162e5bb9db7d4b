package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/agentmold/gateway/internal/api/handlers"
	"github.com/agentmold/gateway/internal/api/middleware"
	"github.com/agentmold/gateway/internal/config"
	"github.com/agentmold/gateway/internal/ratelimit"
	"github.com/agentmold/gateway/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the gateway's HTTP router: the enforcement surface
// (reference-agent run, skill execute), the read-only audit/subscription
// query surface, and the admin rate-limit override endpoint.
func NewRouter(cfg *config.Config, h *handlers.Handlers, authChain contracts.AuthProviderChain, ids contracts.IDGenerator, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)

	// Ordering below is load-bearing: CORS first so preflight/browser
	// requests never reach auth; Correlation before Auth so every
	// response — including a 401/403 — carries the inbound correlation
	// ID; Auth before CustomerResolver/RateLimit since both need the
	// resolved identity.
	corsOrigins := parseCORSOrigins(cfg)
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Customer-Id", "X-Correlation-Id", "X-Metering-Signature", "X-Metering-Timestamp", "X-API-Key"},
		ExposedHeaders:   []string{"X-Correlation-Id"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	r.Use(middleware.Correlation(ids))

	if authChain != nil {
		authMW := middleware.NewAuthMiddleware(authChain, cfg.RequireAuth)
		r.Use(authMW.Handler)
	}
	r.Use(middleware.CustomerResolver)
	r.Use(middleware.Telemetry)
	if limiter != nil {
		r.Use(middleware.RateLimit(limiter))
	}

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/reference-agents", h.ListReferenceAgents)
		r.Post("/reference-agents/{agentID}/run", h.RunReferenceAgent)

		r.Route("/agent-mold", func(r chi.Router) {
			r.Post("/skills/{family}/{skillKey}/execute", h.ExecuteSkill)
			r.Get("/schema/agent-spec", h.AgentSpecSchema)
		})

		r.Get("/usage-events", h.ListUsageEvents)
		r.Get("/usage-events/aggregate", h.AggregateUsageEvents)
		r.Get("/audit/policy-denials", h.ListPolicyDenials)

		r.Get("/subscriptions/{customerID}", h.GetSubscription)
		r.Get("/hired-agents/{customerID}/{agentID}", h.GetHiredAgentHandler)
		r.Post("/admin/rate-limits/{tier}", h.AdminSetRateLimit)
	})

	return r
}

// parseCORSOrigins reads allowed CORS origins from config, falling back
// to the environment and then the open-access default.
func parseCORSOrigins(cfg *config.Config) []string {
	if len(cfg.CORSOrigins) > 0 {
		return cfg.CORSOrigins
	}

	originsEnv := os.Getenv("AGENTMOLD_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}

	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "agentmold-gateway",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "agentmold-gateway",
		})
	}
}
