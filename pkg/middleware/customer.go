// Package middleware provides shared middleware context helpers used by
// both the gateway's internal API layer and any deployer-supplied
// extensions (additional auth providers, additional policy stages).
package middleware

import "context"

type contextKey string

const customerKey contextKey = "customer_id"

// GetCustomerID extracts the resolved customer (tenant) ID from the
// context. Returns "" if no customer has been resolved yet — callers
// on the ingress side of the customer-resolution stage should not see
// this happen for routes other than health/version.
func GetCustomerID(ctx context.Context) string {
	if v, ok := ctx.Value(customerKey).(string); ok {
		return v
	}
	return ""
}

// SetCustomerID stores the resolved customer ID in the context.
func SetCustomerID(ctx context.Context, customerID string) context.Context {
	return context.WithValue(ctx, customerKey, customerID)
}
