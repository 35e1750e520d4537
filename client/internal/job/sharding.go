package job

import (
	"fmt"
	"hash/fnv"
)

// ShardLabel hashes an executor key (class/objectId) to a stable metric label
// in 0-31, keeping label cardinality bounded.
func ShardLabel(key string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return fmt.Sprintf("%d", h.Sum32()%32)
}
