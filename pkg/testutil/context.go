package testutil

import (
	"context"
	"net/http"

	id "orgdesk/pkg/domain"
	"orgdesk/pkg/requestcontext"
)

// WithUserID adds a user id to the request context, simulating what the auth
// middleware does for authenticated requests. Invalid ids are silently
// ignored so tests can exercise the unauthenticated path with garbage input.
func WithUserID(req *http.Request, userID string) *http.Request {
	if parsed, err := id.ParseUserID(userID); err == nil {
		return req.WithContext(requestcontext.WithUserID(req.Context(), parsed))
	}
	return req
}

// WithTenantID adds a tenant id to the request context.
func WithTenantID(req *http.Request, tenantID string) *http.Request {
	if parsed, err := id.ParseTenantID(tenantID); err == nil {
		return req.WithContext(requestcontext.WithTenantID(req.Context(), parsed))
	}
	return req
}

// WithAuth adds both user and tenant ids, the typical state for an
// authenticated tenant-scoped request.
func WithAuth(req *http.Request, userID, tenantID string) *http.Request {
	ctx := req.Context()
	if userID != "" {
		if parsed, err := id.ParseUserID(userID); err == nil {
			ctx = requestcontext.WithUserID(ctx, parsed)
		}
	}
	if tenantID != "" {
		if parsed, err := id.ParseTenantID(tenantID); err == nil {
			ctx = requestcontext.WithTenantID(ctx, parsed)
		}
	}
	return req.WithContext(ctx)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), key, value))
}
