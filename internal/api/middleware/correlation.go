package middleware

import (
	"net/http"

	"github.com/agentmold/gateway/pkg/contracts"
	pkgmw "github.com/agentmold/gateway/pkg/middleware"
	"github.com/agentmold/gateway/pkg/models"
)

// Correlation seeds a RequestContext onto the request with a
// correlation ID (the caller's X-Correlation-Id if present, otherwise
// freshly generated) and sets it on the response before any later
// stage — including Auth — has a chance to reject the request. This
// runs ahead of Auth precisely so a 401/403 still carries the inbound
// correlation ID on its response, per the universal invariant that the
// response X-Correlation-Id always echoes the inbound one.
//
// Identity-derived fields (UserID, Roles) and CustomerID aren't known
// yet at this point in the chain; CustomerResolver fills those in once
// Auth has run.
func Correlation(ids contracts.IDGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get("X-Correlation-Id")
			if correlationID == "" {
				correlationID = ids.NewID()
			}

			rc := &models.RequestContext{CorrelationID: correlationID}

			w.Header().Set("X-Correlation-Id", correlationID)
			ctx := pkgmw.SetRequestContext(r.Context(), rc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
