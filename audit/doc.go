// Package audit implements the append-only, signed audit ledger. Append is
// the only mutation; records are never updated, deleted or reordered after
// insertion. Every record carries a keyed-hash signature over a canonical
// serialization of all other fields, verifiable independently of the store
// that holds it. Signing is pluggable so the ledger stays testable without
// real key material.
package audit
