// Package recording defines the domain model for uploaded recording files
// and the parser variants that derive device identifiers and time windows
// from them. Each filename or content convention is one Extractor variant;
// new conventions are added as new variants, not new special cases.
package recording
