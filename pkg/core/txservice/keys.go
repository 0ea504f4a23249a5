package txservice

import (
	"fmt"
	"strings"
)

// BuildIdempotencyKey renders the stable per-row key used to deduplicate
// re-ingested files: "{kind}:{file_hash[:8]}:{row_idx}:{natural_id}".
// The natural id parts are joined with ':' as given; callers pass the fields
// of the row's natural key in a fixed order.
func BuildIdempotencyKey(kind, fileHash string, rowIdx int, naturalParts ...string) string {
	hash := fileHash
	if len(hash) > 8 {
		hash = hash[:8]
	}
	key := fmt.Sprintf("%s:%s:%d", kind, hash, rowIdx)
	if len(naturalParts) > 0 {
		key += ":" + strings.Join(naturalParts, ":")
	}
	return key
}
