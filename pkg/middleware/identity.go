package middleware

import (
	"context"

	"github.com/agentmold/gateway/pkg/contracts"
	"github.com/agentmold/gateway/pkg/models"
)

const identityKey contextKey = "identity"

// SetIdentity stores the authenticated Identity in the context. Called
// by the auth stage after a provider in the chain succeeds.
func SetIdentity(ctx context.Context, identity *contracts.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the authenticated Identity from the context.
// Returns nil for an unauthenticated request.
func GetIdentity(ctx context.Context) *contracts.Identity {
	if v, ok := ctx.Value(identityKey).(*contracts.Identity); ok {
		return v
	}
	return nil
}

const requestContextKey contextKey = "request_context"

// SetRequestContext stores the pipeline's accumulated RequestContext
// (correlation ID, decision ID, trial mode, intent action, etc.) so
// downstream handlers and the audit stage can read it without
// threading it through every function signature.
func SetRequestContext(ctx context.Context, rc *models.RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// GetRequestContext retrieves the stored RequestContext, or nil.
func GetRequestContext(ctx context.Context) *models.RequestContext {
	if v, ok := ctx.Value(requestContextKey).(*models.RequestContext); ok {
		return v
	}
	return nil
}
