// Package killswitch implements the agent state registry and emergency
// controls: disable (terminal unless explicitly reversed), freeze (writes
// blocked, reads permitted), enable and global shutdown. Every transition
// is idempotent and appends an audit record before the state change becomes
// observable. State checks always re-read the authoritative store so that a
// disable takes effect on the very next check from any concurrent caller.
package killswitch
