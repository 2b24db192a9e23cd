// Package terminal multiplexes pseudo-terminal sessions over agent
// connections.
//
// Many sessions share one agent socket, distinguished by session id. A
// session runs once the agent acks the start directive; output is then
// stamped with a per-session monotonically increasing sequence number,
// assigned under the session lock, so consoles can reassemble the
// stream in order. Input is accepted only from the owning console and
// only while the session is RUNNING.
package terminal
