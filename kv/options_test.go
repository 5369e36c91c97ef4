package kv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lowlevelkv/kvengine/common/testutil"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions("/var/lib/kvengine/primary")
	require.Equal(t, "/var/lib/kvengine/primary", opts.Path)
	require.True(t, opts.CreateIfMissing)
	require.False(t, opts.ErrorIfExists)
	require.Equal(t, "info", opts.LogLevel)
}

func TestLoadOptionsFile(t *testing.T) {
	dir := testutil.TempDir(t)
	p := filepath.Join(dir, "opts.yaml")
	contents := "path: /data/kv\ncreate_if_missing: false\nerror_if_exists: true\nlog_level: debug\n"
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))

	opts, err := LoadOptionsFile(p)
	require.NoError(t, err)
	require.Equal(t, "/data/kv", opts.Path)
	require.False(t, opts.CreateIfMissing)
	require.True(t, opts.ErrorIfExists)
	require.Equal(t, "debug", opts.LogLevel)
}

func TestLoadOptionsFileMissingFile(t *testing.T) {
	_, err := LoadOptionsFile("/nonexistent/path/opts.yaml")
	require.Error(t, err)
}
