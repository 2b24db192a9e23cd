// Package transfer coordinates file transfers between consoles and agents.
//
// # Negotiation
//
// A transfer starts with a console request naming the direction (UPLOAD
// or DOWNLOAD) and remote path. The agent must accept within the
// negotiation timeout or the transfer fails. Small uploads may ride
// inline on the request; their size is inferred from the decoded data.
//
// # Data Flow
//
// Chunks flow strictly one way per direction: console → agent for
// uploads, agent → console for downloads. A chunk from the wrong party
// is rejected with ErrWrongParty. Progress is tracked as cumulative
// bytes and is monotonic; a stale progress report can never move the
// counter backwards.
//
// Completion is always explicit. The sending side signals end-of-data,
// and a zero-byte acceptance completes immediately. Downloads may
// instead arrive as a single FileContent event carrying both the data
// and the completion. Either side disconnecting fails the transfer with
// the bytes moved so far; every transfer reaches exactly one terminal
// state, reported through the audit hook.
package transfer
