package btree

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lowlevelkv/kvengine/buffer"
	"github.com/lowlevelkv/kvengine/common"
	"github.com/lowlevelkv/kvengine/common/testutil"
	"github.com/lowlevelkv/kvengine/disk"
	"github.com/lowlevelkv/kvengine/wal"
)

func newTestTree(t *testing.T) *BTree {
	t.Helper()
	dir := testutil.TempDir(t)
	dmgr, err := disk.CreateAndOpen(filepath.Join(dir, "db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { dmgr.Close() })
	walmgr := wal.New(dmgr, zap.NewNop())
	bufmgr := buffer.New(dmgr, walmgr, 1, zap.NewNop())
	tree, err := Init(bufmgr, ByteComparator{})
	require.NoError(t, err)
	return tree
}

func TestInsertThenGetSingleKey(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Insert([]byte("user:1001"), []byte("alice")))

	value, err := tree.Get([]byte("user:1001"))
	require.NoError(t, err)
	require.Equal(t, []byte("alice"), value)
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Insert([]byte("a"), []byte("1")))

	_, err := tree.Get([]byte("b"))
	require.True(t, errors.Is(err, common.ErrKeyNotFound))
}

func TestInsertOverwritesExistingValue(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Insert([]byte("k"), []byte("v1")))
	require.NoError(t, tree.Insert([]byte("k"), []byte("v2")))

	value, err := tree.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), value)
}

func TestInsertManyKeysForcesMultipleSplits(t *testing.T) {
	tree := newTestTree(t)
	const n = 500

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		value := []byte(fmt.Sprintf("value-%05d", i))
		require.NoError(t, tree.Insert(key, value))
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		value, err := tree.Get(key)
		require.NoError(t, err, "key %s", key)
		require.Equal(t, fmt.Sprintf("value-%05d", i), string(value))
	}
}

func TestInsertValueLargerThanInlineCellSpillsToOverflow(t *testing.T) {
	tree := newTestTree(t)
	big := make([]byte, 5000)
	for i := range big {
		big[i] = byte(i % 256)
	}

	require.NoError(t, tree.Insert([]byte("blob"), big))

	got, err := tree.Get([]byte("blob"))
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestDeleteRemovesKey(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.Insert([]byte("k"), []byte("v")))
	require.NoError(t, tree.Delete([]byte("k")))

	_, err := tree.Get([]byte("k"))
	require.True(t, errors.Is(err, common.ErrKeyNotFound))
}

func TestDeleteMissingKeyReturnsNotFound(t *testing.T) {
	tree := newTestTree(t)
	err := tree.Delete([]byte("absent"))
	require.True(t, errors.Is(err, common.ErrKeyNotFound))
}

func TestDeleteManyKeysTriggersMergesAndBorrows(t *testing.T) {
	tree := newTestTree(t)
	const n = 400

	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte(fmt.Sprintf("key-%05d", i))
		require.NoError(t, tree.Insert(keys[i], []byte(fmt.Sprintf("value-%05d", i))))
	}

	// Delete every other key, forcing widespread underflow and
	// rebalancing while leaving the rest retrievable.
	for i := 0; i < n; i += 2 {
		require.NoError(t, tree.Delete(keys[i]))
	}

	for i := 0; i < n; i++ {
		value, err := tree.Get(keys[i])
		if i%2 == 0 {
			require.True(t, errors.Is(err, common.ErrKeyNotFound), "key %s should be gone", keys[i])
			continue
		}
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("value-%05d", i), string(value))
	}
}

// TestLeafSplitSeparatorIsLeftLeafsLastKey pins the exact worked example
// spec.md §8's S4 scenario describes: filling a leaf to capacity (30
// keys, dummy_key_00..dummy_key_29) and inserting one more forces a
// split at mid=15, and the parent's first separator must be the left
// leaf's last key (dummy_key_14) rather than the right leaf's first
// key (dummy_key_15).
func TestLeafSplitSeparatorIsLeftLeafsLastKey(t *testing.T) {
	tree := newTestTree(t)
	for i := 0; i < LeafCapacity; i++ {
		key := []byte(fmt.Sprintf("dummy_key_%02d", i))
		require.NoError(t, tree.Insert(key, []byte("v")))
	}
	require.NoError(t, tree.Insert([]byte("dummy_key_30"), []byte("v")))

	rootFrame, err := tree.bufmgr.Get(tree.RootPageID())
	require.NoError(t, err)
	defer tree.bufmgr.Unpin(rootFrame, false)

	typ, err := pageTypeOf(rootFrame.Data())
	require.NoError(t, err)
	require.Equal(t, PageTypeInternal, typ)

	root := Internal(rootFrame.Data())
	separator, err := readCell(root.keyCell(0), tree.bufmgr)
	require.NoError(t, err)
	require.Equal(t, "dummy_key_14", string(separator))

	// Every key in the right child must be strictly greater than the
	// separator (invariant #4), and the separator key itself must
	// still be reachable by descending into the left child.
	v, err := tree.Get([]byte("dummy_key_14"))
	require.NoError(t, err)
	require.Equal(t, "v", string(v))
}

func TestDeleteAllKeysLeavesEmptyTree(t *testing.T) {
	tree := newTestTree(t)
	const n = 100
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte(fmt.Sprintf("key-%05d", i))
		require.NoError(t, tree.Insert(keys[i], []byte("v")))
	}
	for _, k := range keys {
		require.NoError(t, tree.Delete(k))
	}
	for _, k := range keys {
		_, err := tree.Get(k)
		require.True(t, errors.Is(err, common.ErrKeyNotFound))
	}
}
