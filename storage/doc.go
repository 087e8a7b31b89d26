// Package storage provides the in-memory implementation of the
// core.StorageAdapter contract. Governance filtering happens inside the
// adapter, before data leaves the boundary: reads and queries apply policy
// evaluation at retrieval time and every decision, denials included, is
// appended to the audit ledger. Durable backends live in subpackages
// (storage/sqlite) and satisfy the same contract.
package storage
