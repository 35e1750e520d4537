package job

import (
	"strconv"
	"testing"
)

func TestShardLabel_DeterministicAndBounded(t *testing.T) {
	t.Parallel()
	for _, key := range []string{"", "user/abc", "TestClass/7FrmPTBKSNtVjajm", "new/3f2c"} {
		a, b := ShardLabel(key), ShardLabel(key)
		if a != b {
			t.Fatalf("ShardLabel not deterministic for %q: %s vs %s", key, a, b)
		}
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 || n > 31 {
			t.Fatalf("ShardLabel out of range for %q: %s", key, a)
		}
	}
}
