// Package auth provides authentication and authorization for the openclaw gateway.
//
// # JWT Tokens
//
// API clients authenticate with HS256 JWTs signed with the configured
// auth.jwt_secret (at least 32 bytes). A token carries:
//
//   - sub: the caller's name, used in logs
//   - role: "admin" or "viewer" (missing means viewer)
//   - exp: expiry
//
// Tokens are issued with the CLI:
//
//	openclaw token --subject ops --role admin --ttl 720h
//
// # HTTP Middleware
//
//	r.Use(auth.HTTPAuthMiddleware(verifier, logger))
//	r.With(auth.RequireAdminHTTP()).Post("/api/agents", ...)
//
// The token is read from "Authorization: Bearer <token>". Streaming clients
// that cannot set headers may pass ?access_token= instead. Viewers can read
// agents, events and parsed items; changing agents needs the admin role.
package auth
