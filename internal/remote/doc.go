// Package remote manages remote-control sessions between consoles and
// agents.
//
// # Lifecycle
//
// A session moves PENDING → ACTIVE when the agent acks the start
// directive, or PENDING → REJECTED when it refuses. Active sessions end
// when the console stops them, when either side disconnects, or when
// the start goes unacked past the timeout. Every session reaches
// exactly one terminal state, and a hook reports it for auditing.
//
// Starting a session is idempotent per (console, agent) pair: a repeat
// start returns the existing session rather than spawning a duplicate.
// Distinct consoles get distinct sessions against the same agent.
//
// # Input Forwarding
//
// Input events forward to the agent only in CONTROL mode. In VIEW mode
// they are dropped without error, so a misbehaving viewer cannot drive
// the machine and cannot probe whether input would have been accepted.
package remote
