package disk

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lowlevelkv/kvengine/common"
	"github.com/lowlevelkv/kvengine/common/testutil"
)

func TestCreateAndOpenWritesRootPage(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "db")

	m, err := CreateAndOpen(path, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	root := make([]byte, common.PageSize)
	require.NoError(t, m.ReadPage(common.RootMetadataPageID, root))
	require.NoError(t, validateRootPageHeader(root))
}

func TestOpenMissingDatabaseReturnsKeyNotFound(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "missing")

	_, _, err := Open(path, zap.NewNop())
	require.Error(t, err)
	require.True(t, errors.Is(err, common.ErrKeyNotFound))
}

func TestWritePageThenReadPageRoundTrips(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "db")

	m, err := CreateAndOpen(path, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	page := make([]byte, common.PageSize)
	for i := range page {
		page[i] = byte(i % 251)
	}
	require.NoError(t, m.WritePage(3, page, true))

	got := make([]byte, common.PageSize)
	require.NoError(t, m.ReadPage(3, got))
	require.Equal(t, page, got)
}

func TestAppendLogAndReadBack(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "db")

	m, err := CreateAndOpen(path, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	first := []byte("hello-record")
	offset, err := m.AppendLog(first)
	require.NoError(t, err)
	require.Equal(t, int64(0), offset)

	second := []byte("second-record")
	offset2, err := m.AppendLog(second)
	require.NoError(t, err)
	require.Equal(t, int64(len(first)), offset2)

	size, err := m.LogFileSize()
	require.NoError(t, err)
	require.Equal(t, int64(len(first)+len(second)), size)

	body, err := m.ReadLogRecordBody(offset2, len(second))
	require.NoError(t, err)
	require.Equal(t, second, body)
}

func TestOpenAndCreateReopenSameDatabase(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "db")

	m, err := CreateAndOpen(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m2, root, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer m2.Close()
	require.NoError(t, validateRootPageHeader(root))
}

func TestDatabaseLockPreventsSecondOpen(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "db")

	m, err := CreateAndOpen(path, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	_, err = CreateAndOpen(path, zap.NewNop())
	require.Error(t, err)
}
