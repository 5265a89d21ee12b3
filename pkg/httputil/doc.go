// Package httputil provides the response envelope, request parsing helpers
// and the generic HTTP middleware shared by every tenantry handler.
//
// Every response body is an Envelope:
//
//	{"success": true, "data": {...}}
//	{"success": false, "error": {"code": "NOT_FOUND", "message": "role not found"}}
//
// Handlers return domain errors through WriteAppError, which maps the
// apperrors.Kind onto the status code and envelope code:
//
//	role, err := h.resolver.CreateRole(ctx, principal, input)
//	if err != nil {
//		httputil.WriteAppError(w, r, err)
//		return
//	}
//	httputil.WriteCreated(w, role)
package httputil
