package benchmark

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lowlevelkv/kvengine/common/testutil"
	"github.com/lowlevelkv/kvengine/kv"
)

func TestBenchmarkRunProducesResult(t *testing.T) {
	dir := testutil.TempDir(t)
	db, err := kv.Load(kv.DefaultOptions(filepath.Join(dir, "bench")), zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	config := Config{
		Name:            "smoke",
		WorkloadType:    WorkloadBalanced,
		KeyDistribution: DistUniform,
		NumKeys:         200,
		KeySize:         16,
		ValueSize:       32,
		Duration:        50 * time.Millisecond,
		Concurrency:     2,
		PreloadKeys:     50,
		Seed:            1,
	}

	bench := NewBenchmark(db, config)
	result, err := bench.Run()
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, config.Name, result.Config.Name)
}
