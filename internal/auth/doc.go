// Package auth protects the gateway's admin API.
//
// # Tokens
//
// Operators authenticate with HS256 JWTs signed with auth.jwt_secret. The
// "sub" claim names the operator and the "role" claim grants access:
//
//   - viewer: list live sessions and read the audit log
//   - admin: everything a viewer can do, plus ending sessions
//
// Tokens without a role claim are viewers. Tokens are minted offline:
//
//	sacco-gateway token --subject ops --role admin --ttl 720h
//
// # HTTP Middleware
//
//	r.Use(auth.HTTPAuthMiddleware(verifier, logger))
//	r.With(auth.RequireRole(auth.RoleAdmin)).Delete("/api/sessions/{user}", ...)
//
// HTTPAuthMiddleware puts the verified Claims on the request context where
// handlers read them with FromContext.
//
// Chat users never see this package. They are identified by their channel and
// verified with a one-time code by the wallet backend.
package auth
