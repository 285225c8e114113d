package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DescriptionHash computes a stable digest of normalized-whitespace,
// case-folded description text (spec §4.4 step 6). Used both to dedupe
// near-identical descriptions and to key the LLM evaluation cache.
func DescriptionHash(description string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(description)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
