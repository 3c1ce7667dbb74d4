// Package api implements the tempsys HTTP API.
//
// This package provides:
//   - Session endpoints: login, refresh, logout and email verification
//   - Account endpoints: registration, lookup, credential and role changes, deletion
//   - The audit log, health and Prometheus endpoints
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, bearer auth)
//   - TLS support for production deployments
//
// # Security
//
// Access tokens travel in the Authorization header as bearer tokens. The
// refresh token lives only in an HttpOnly, SameSite=Lax cookie scoped to
// /api/auth, so scripts in the page can never read it. Secure is set from
// api.cookie.secure and must be on behind TLS.
//
// Route guards check the permissions of the role carried in the access token.
// Credential changes and deletion are also allowed on one's own account.
package api
