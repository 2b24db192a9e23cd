// Package presence derives online/offline state from registry churn and
// heartbeats.
//
// The tracker implements registry.PresenceListener: agent registration
// announces agent_online to every console in the organization, teardown
// announces agent_offline. A reconnect replaces the connection without
// announcing anything, so consoles never see offline/online churn for a
// machine that merely re-dialed.
//
// A background sweep closes connections whose heartbeats have gone
// silent past the configured timeout; the normal teardown path then
// announces the offline transition exactly once.
package presence
