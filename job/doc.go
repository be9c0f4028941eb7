// Package job defines the job entity, its state machine, and the store
// interface.
//
// # Job Entity
//
// A [Job] wraps one validated editing recipe and progresses through a
// bounded state machine:
//
//	pending → claimed → processing → completed
//	pending → claimed → processing → pending (retry, time-gated)
//	pending → claimed → processing → failed
//
// Completed and failed are terminal: the row is retained for audit but
// accepts no further transitions. Every transition is appended to the
// job's History, and every retry decision to its AttemptLog.
//
// Fields of note:
//   - Priority: high > medium > low; FIFO within a band
//   - RunAt: earliest time the job may be claimed again
//   - Attempts: completed execution attempts, checked against the
//     policy ceiling before any retry
//
// # Claim semantics
//
// [Store.ClaimJob] is an atomic compare-and-set from pending to claimed.
// Exactly one concurrent caller wins a given job; the scheduler then
// moves the winner to processing and stamps the start time.
package job
