// Package guard implements the retrieval guard, the single gateway through
// which agents receive memory and record it. The read path runs an ordered
// enforcement pipeline (identity validation, kill switch, type filter, TTL,
// sensitivity, scope isolation, token budget, audit) where every step can
// short-circuit to denial; the write path checks the kill switch and the
// policy engine before anything reaches storage. Fail-closed throughout: a
// denied operation never returns partial or unfiltered data, and an
// operation whose audit record cannot be written is reported as failed.
package guard
