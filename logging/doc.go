// Package logging provides a minimal logging interface and adapters for the
// memgov governance plane.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the guard, kill switch and storage adapters use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// The design intentionally keeps the interface minimal to avoid vendor
// lock-in while supporting structured logging where available. Audit
// obligations are never satisfied by logging: the audit ledger is the
// durable record, logging is operator telemetry only.
package logging
