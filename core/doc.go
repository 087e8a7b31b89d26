// Package core defines the shared data model and contracts of the memgov
// governance plane: governed memory items and their policy contracts, the
// runtime policy-check context, immutable audit records, agent lifecycle
// state and the storage adapter interface every backend must satisfy.
//
// The package is deliberately dependency-light so that policy evaluation,
// kill-switch logic and storage backends can all depend on it without
// cycles. Behavior lives in the policy, killswitch, audit and guard
// packages; core carries types, enums, typed errors and small constructors.
package core
