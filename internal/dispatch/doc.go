// Package dispatch correlates commands sent to agents with their responses.
//
// # Lifecycle
//
// Every dispatched command gets a generated uuid and a Receipt whose
// Outcome channel resolves exactly once, to one of three statuses:
//
//   - ACKED: the agent responded with success
//   - FAILED: the agent responded with failure, or the queued command was
//     evicted before the agent returned
//   - TIMED_OUT: no response arrived within the ack timeout
//
// The ack timer starts at dispatch and bounds the caller's total wait:
// a queued command whose agent never reconnects in time resolves
// TIMED_OUT rather than leaving the console waiting forever.
//
// # Offline Policy
//
// When the target agent is offline, behavior follows the configured
// policy:
//
//   - "queue": the command is held in a per-agent FIFO queue and flushed,
//     in order, when the agent reconnects. The queue is size-bounded; at
//     capacity the oldest entry is evicted and resolved FAILED.
//   - "drop": the command is not queued. The receipt still resolves,
//     by timeout, so the two policies present one outcome contract.
//
// # Correlation Rules
//
// A response resolves its command only when the responding agent is the
// one the command was sent to; responses from any other agent are
// rejected. Responses for unknown or already-resolved ids return
// ErrUnknownCorrelation, which the gateway uses together with the dedupe
// cache to drop replays silently.
package dispatch
