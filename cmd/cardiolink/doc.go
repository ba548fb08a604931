// Package main hosts the cardiolink CLI entrypoint and command graph.
//
// The Cobra-based command tree covers the intake daemon, one-shot batch
// processing, session and link inspection, link resolution, notification
// checks, and configuration scaffolding. It centralizes configuration
// resolution and store wiring so subcommands can focus on user
// experience instead of plumbing.
//
// Keep this package lean: add new functionality by extending the
// internal packages first, then surface it through dedicated commands
// or flags here.
package main
