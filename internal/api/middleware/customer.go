package middleware

import (
	"net/http"
	"strings"

	pkgmw "github.com/agentmold/gateway/pkg/middleware"
)

// CustomerResolver extracts the customer (tenant) scope for the
// request and fills in the identity-derived fields Correlation left
// blank (UserID, Roles) now that Auth has run. A customer-scoped
// identity's CustomerID is authoritative, and a platform_admin
// identity may override it with X-Customer-Id to operate on behalf of
// a customer for the admin query surface. The header is never honored
// for an unauthenticated request — there is no HMAC or other trust
// channel on X-Customer-Id itself, so an anonymous caller gets an
// empty customer scope and fails RBAC downstream rather than flowing
// into budget accounting, audit records, or policy input as an
// arbitrary customer.
func CustomerResolver(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := pkgmw.GetIdentity(r.Context())

		customerID := ""
		if identity != nil {
			customerID = identity.CustomerID

			if identity.Role == "platform_admin" {
				if header := strings.TrimSpace(r.Header.Get("X-Customer-Id")); header != "" {
					customerID = header
				}
			}
		}

		if rc := pkgmw.GetRequestContext(r.Context()); rc != nil {
			rc.CustomerID = customerID
			if identity != nil {
				rc.UserID = identity.Subject
				rc.Roles = append([]string{identity.Role}, identity.Groups...)
			}
		}

		ctx := pkgmw.SetCustomerID(r.Context(), customerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCustomerID is re-exported for handlers that only import this
// package.
func GetCustomerID(r *http.Request) string {
	return pkgmw.GetCustomerID(r.Context())
}
