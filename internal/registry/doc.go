// Package registry tracks live agent and console connections.
//
// # Overview
//
// The Registry is the single owner of connection handles. Agents and
// consoles are keyed by organization-scoped identities (AgentKey,
// ConsoleKey); every other component resolves a target through a lookup
// here and never holds a connection of its own.
//
// Key operations:
//
//   - RegisterAgent / UnregisterAgent: agent lifecycle; reconnects replace
//     the prior handle and close it
//   - RegisterConsole / UnregisterConsole: console lifecycle; unregistering
//     releases every watch subscription the console held
//   - SendToAgent / SendToConsole: non-blocking delivery through the peer's
//     bounded outbound queue
//   - Watch / Unwatch / Watchers: console subscriptions to agent telemetry
//   - OnlineComputers / BroadcastToOrg: presence queries and fan-out
//
// # Backpressure
//
// Peer.Enqueue never blocks. A slow consumer's queue fills and events are
// dropped for that peer only; no connection can stall delivery to another.
//
// # Presence
//
// Agent churn is reported to a PresenceListener (the presence tracker).
// Lookup of an absent identity returns ok=false or ErrNotConnected, which
// callers treat as "offline" rather than a fault.
package registry
