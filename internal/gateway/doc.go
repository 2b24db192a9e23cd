// Package gateway wires the vigil-gateway server together.
//
// # Overview
//
// The gateway hosts two websocket endpoints on one HTTP server:
//
//   - /ws/agent   — monitored endpoints; auth-first handshake with an
//     enrollment key, then a routed event stream
//   - /ws/console — operator dashboards; JWT on the token query parameter
//
// Both sides speak the same envelope format: {"event": ..., "payload": ...}.
//
// # Routing
//
// Every inbound envelope is routed by event name to the component that owns
// it: presence for heartbeats, dispatch for command responses, the session
// managers for acks and output, the transfer coordinator for chunks, and
// the relay for telemetry fan-out. A malformed envelope from an agent is
// dropped with a log line; a malformed envelope from a console is answered
// with an error event.
//
// # Teardown
//
// When a connection drops, the gateway unregisters it, then ends that
// identity's sessions and fails its transfers. The unregister is guarded
// by handle identity: the exit path of a connection that a reconnect
// already replaced closes only its own stale handle and leaves the
// replacement's sessions, transfers, and watches alone. Presence
// announcements fire from the registry exactly once per transition.
//
// # Audit
//
// Commands, sessions, and transfers write an audit row when they reach a
// terminal state. The managers expose hook callbacks; only the gateway
// touches the store.
package gateway
