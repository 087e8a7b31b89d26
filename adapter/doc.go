// Package adapter is the framework boundary: thin translation layers that
// expose the retrieval guard to external agent frameworks as an ordinary
// memory service. Adapters never add governance of their own and never
// bypass the guard; they only translate shapes. A framework mounting
// MemoryService gets kill-switch enforcement, policy evaluation, TTL
// filtering and audit logging on every call for free.
package adapter
