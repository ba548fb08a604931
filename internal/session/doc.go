// Package session tracks batch ingestion runs as resumable, queryable
// sessions. A session moves pending → uploading → processing and ends in
// completed, failed, or cancelled; terminal sessions are immutable. The
// store persists sessions and per-file outcomes in SQLite, and the
// Manager layers the intake state machine (file staging, count-gated
// upload completion, cancellation, restart recovery) on top of it.
package session
