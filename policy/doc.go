// Package policy implements the declarative policy engine of the
// governance plane. Evaluation is a pure function of (memory attributes,
// requested operation, agent identity, now): no hidden state, no caching of
// prior decisions. The retention table is represented as data so a policy
// change is an auditable configuration diff, not a code change.
package policy
