// Package auth provides authentication for vigil-gateway.
//
// # Authentication Methods
//
// Two populations connect to the gateway, each with its own scheme:
//
//   - Consoles present JWT tokens signed with HS256 using the configured
//     jwt_secret. The gateway trusts the (sub, org, role) claims the
//     identity provider put there; "role" defaults to "operator".
//
//   - Agents present a shared enrollment key in their auth envelope. The
//     key is checked against a bcrypt hash from configuration. An empty
//     configured hash disables agent auth entirely (development mode).
//
// # HTTP Middleware
//
// REST endpoints use HTTPMiddleware, which resolves the bearer token (or
// the "token" query parameter for browser websocket upgrades) into an
// Identity stored on the request context:
//
//	id := auth.FromContext(r.Context())
//
// Every lookup downstream is scoped by id.OrgID; a valid token for one
// organization can never observe another.
package auth
