// Package relay fans agent telemetry out to watching consoles.
//
// Watched events (heartbeats, screenshots, keystrokes, clipboard,
// process lists, activity logs) reach every console watching the
// computer, wrapped in a WatchedEvent naming the source. Screen frames
// additionally reach consoles holding an active remote-control session,
// deduplicated against the watcher set so nobody gets a frame twice.
//
// Delivery goes through each console's bounded outbound queue: a slow
// console drops events, it never blocks the agent or its neighbors.
package relay
