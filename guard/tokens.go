package guard

import "strings"

// metadataOverheadTokens is the per-item allowance for identifiers and
// policy attributes that accompany the content when a memory is rendered
// into an agent prompt.
const metadataOverheadTokens = 10

// estimateTokens approximates the prompt cost of a memory's content as its
// whitespace-separated word count plus a fixed metadata overhead. Crude but
// deterministic, which matters more here than accuracy: the budget cutoff
// must be identical across calls.
func estimateTokens(content string) int {
	return len(strings.Fields(content)) + metadataOverheadTokens
}
