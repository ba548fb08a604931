// Package daemon coordinates the long-running cardiolink process.
//
// It wires configuration, the session manager, and the batch processor
// into a single lifecycle with flock-based locking to prevent multiple
// instances. The daemon watches the incoming directory for settled drop
// folders, runs each as one batch session, and resumes sessions a
// previous instance left in processing.
//
// Keep orchestration logic here: matching, linking, and storage steps
// live in their respective packages while the daemon focuses on startup,
// shutdown, and scheduling.
package daemon
