package compose

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// attributeChunks fingerprints each surviving result's sentence-level
// chunks with sha256 and maps each fingerprint back to the agent_id(s) that
// contributed it, per §3's attribution_map (fingerprint -> contributing
// agent_ids, keys unique, insertion order preserved within each list) and
// invariant 6 (every key is a byte-sequence actually present in
// composed_content). sha256 is stdlib: no library in the retrieved pack
// offers content fingerprinting, and this is a pure hashing concern with
// no transport, schema, or protocol surface that would justify reaching
// for a third-party dependency.
func attributeChunks(inputs []input) map[string][]string {
	out := make(map[string][]string)
	for _, in := range inputs {
		for _, chunk := range splitSentences(in.result.Content) {
			chunk = strings.TrimSpace(chunk)
			if chunk == "" {
				continue
			}
			sum := sha256.Sum256([]byte(chunk))
			fingerprint := hex.EncodeToString(sum[:8])
			out[fingerprint] = appendUnique(out[fingerprint], in.result.AgentID)
		}
	}
	return out
}

// appendUnique appends agentID to ids unless it is already present,
// preserving insertion order.
func appendUnique(ids []string, agentID string) []string {
	for _, id := range ids {
		if id == agentID {
			return ids
		}
	}
	return append(ids, agentID)
}
