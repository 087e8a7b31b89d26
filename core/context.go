package core

// ContextRequest asks the retrieval guard for governed context on behalf of
// an agent. RequestID correlates the audit trail; when empty the guard
// generates one.
type ContextRequest struct {
	AgentID   string       `json:"agent_id"`
	RequestID string       `json:"request_id"`
	Filters   QueryFilters `json:"filters"`
	MaxTokens int          `json:"max_tokens"`
	MaxItems  int          `json:"max_items"`
}

// ContextMetadata summarizes what the guard examined, excluded and returned.
type ContextMetadata struct {
	TokenCount    int         `json:"token_count"`
	ReturnedCount int         `json:"returned_count"`
	FilteredCount int         `json:"filtered_count"`
	TotalExamined int         `json:"total_examined"`
	Stats         FilterStats `json:"stats"`
	AuditID       string      `json:"audit_id"`
	PolicyVersion string      `json:"policy_version"`
}

// GovernedContext is the agent-visible slice of memory after every
// governance check has run. Memories are ordered most-recent-first and the
// content is byte-identical across calls while the underlying store and
// policy are unchanged.
type GovernedContext struct {
	AgentID   string          `json:"agent_id"`
	RequestID string          `json:"request_id"`
	Memories  []Memory        `json:"memories"`
	Metadata  ContextMetadata `json:"metadata"`
}
