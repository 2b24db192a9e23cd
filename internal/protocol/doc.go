// Package protocol defines the wire format shared by agents, consoles,
// and the gateway.
//
// Every message is an Envelope: a named event plus an event-specific
// JSON payload, camelCase on the wire. Event name constants are grouped
// by originating direction (agent → core, console → core, core → agent,
// core → console); payload shapes live in payloads.go.
//
// The command vocabulary is closed: dispatch rejects any command type
// not in the set ValidCommand accepts, before anything reaches an agent.
package protocol
