package middleware

import (
	"net/http"

	"github.com/agentmold/gateway/internal/api/handlers"
	"github.com/agentmold/gateway/internal/ratelimit"
	pkgmw "github.com/agentmold/gateway/pkg/middleware"
)

// RateLimit admits or rejects a request against the per-(tier,
// customer_id) token bucket. The tier is derived from the identity's
// role: platform_admin and service identities get the governor tier,
// everyone else is priced by trial/paid status carried on the
// identity's claims, defaulting to trial when absent.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := pkgmw.GetIdentity(r.Context())
			customerID := pkgmw.GetCustomerID(r.Context())
			tier := ratelimit.TierTrial

			if identity != nil {
				switch identity.Role {
				case "platform_admin", "service":
					tier = ratelimit.TierGovernor
				default:
					if identity.Claims["plan_tier"] == "paid" {
						tier = ratelimit.TierPaid
					}
				}
			}

			if !limiter.Allow(tier, customerID) {
				w.Header().Set("Retry-After", "1")
				correlationID := ""
				if rc := pkgmw.GetRequestContext(r.Context()); rc != nil {
					correlationID = rc.CorrelationID
				}
				handlers.WriteProblem(w, http.StatusTooManyRequests, "rate_limited",
					"request rate exceeds the "+tier+" tier allotment", correlationID, "")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
