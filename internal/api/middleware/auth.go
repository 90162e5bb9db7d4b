package middleware

import (
	"net/http"
	"strings"

	"github.com/agentmold/gateway/internal/api/handlers"
	"github.com/agentmold/gateway/pkg/contracts"
	pkgmw "github.com/agentmold/gateway/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware authenticates requests by walking a pluggable
// AuthProviderChain (JWT bearer, peer envelope, platform key) and
// storing the resulting Identity in context for the customer-resolution
// and RBAC stages that follow it.
type AuthMiddleware struct {
	chain       contracts.AuthProviderChain
	requireAuth bool
}

// NewAuthMiddleware builds the auth middleware. requireAuth rejects
// unauthenticated requests to non-public paths; it is false only for
// local development.
func NewAuthMiddleware(chain contracts.AuthProviderChain, requireAuth bool) *AuthMiddleware {
	return &AuthMiddleware{chain: chain, requireAuth: requireAuth}
}

// Handler returns the HTTP middleware.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAuthPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := am.chain.Authenticate(r.Context(), r)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
			writeAuthError(w, r, http.StatusUnauthorized, "authentication_failed", err.Error())
			return
		}

		if identity == nil && am.requireAuth {
			writeAuthError(w, r, http.StatusUnauthorized, "authentication_required",
				"this endpoint requires a bearer token, peer envelope, or platform key")
			return
		}

		ctx := r.Context()
		if identity != nil {
			ctx = pkgmw.SetIdentity(ctx, identity)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeAuthError renders an auth failure as the same RFC-7807 problem
// document every other denial uses, carrying the correlation ID
// Correlation already seeded before Auth runs.
func writeAuthError(w http.ResponseWriter, r *http.Request, status int, reason, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="agentmold-gateway"`)
	correlationID := ""
	if rc := pkgmw.GetRequestContext(r.Context()); rc != nil {
		correlationID = rc.CorrelationID
	}
	handlers.WriteProblem(w, status, reason, detail, correlationID, "")
}

func isAuthPublicPath(path string) bool {
	publicPaths := []string{"/health", "/version"}
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return strings.HasPrefix(path, "/api/v1/webhooks/")
}
