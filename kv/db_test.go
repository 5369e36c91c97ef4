package kv

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lowlevelkv/kvengine/common"
	"github.com/lowlevelkv/kvengine/common/testutil"
)

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(testutil.TempDir(t), "primary")
}

func TestSetGetDelete(t *testing.T) {
	db, err := Load(DefaultOptions(testPath(t)), zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("user:1"), []byte("alice")))
	v, err := db.Get([]byte("user:1"))
	require.NoError(t, err)
	require.Equal(t, "alice", string(v))

	require.NoError(t, db.Delete([]byte("user:1")))
	_, err = db.Get([]byte("user:1"))
	require.True(t, errors.Is(err, common.ErrKeyNotFound))
}

func TestDeleteOfMissingKeyIsNotAnError(t *testing.T) {
	db, err := Load(DefaultOptions(testPath(t)), zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Delete([]byte("never-existed")))
}

func TestSetEmptyKeyIsRejected(t *testing.T) {
	db, err := Load(DefaultOptions(testPath(t)), zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	err = db.Set([]byte{}, []byte("v"))
	require.True(t, errors.Is(err, common.ErrKeyEmpty))
}

func TestSetReservedKeyIsRejected(t *testing.T) {
	db, err := Load(DefaultOptions(testPath(t)), zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	err = db.Set([]byte(common.NextPageIDKey), []byte("9999"))
	require.True(t, errors.Is(err, common.ErrReservedKey))

	err = db.Delete([]byte(common.IndexRootPageIDKey))
	require.True(t, errors.Is(err, common.ErrReservedKey))
}

func TestOperationsAfterCloseReturnErrClosed(t *testing.T) {
	db, err := Load(DefaultOptions(testPath(t)), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Get([]byte("k"))
	require.True(t, errors.Is(err, common.ErrClosed))

	err = db.Set([]byte("k"), []byte("v"))
	require.True(t, errors.Is(err, common.ErrClosed))
}

func TestCloseIsIdempotent(t *testing.T) {
	db, err := Load(DefaultOptions(testPath(t)), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestRecoveryAcrossCloseAndReopen(t *testing.T) {
	path := testPath(t)
	opts := DefaultOptions(path)

	db, err := Load(opts, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("user:1001"), []byte("alice")))
	require.NoError(t, db.Set([]byte("user:1002"), []byte("bob")))
	require.NoError(t, db.Delete([]byte("user:1002")))
	require.NoError(t, db.Close())

	db2, err := Load(opts, zap.NewNop())
	require.NoError(t, err)
	defer db2.Close()

	v, err := db2.Get([]byte("user:1001"))
	require.NoError(t, err)
	require.Equal(t, "alice", string(v))

	_, err = db2.Get([]byte("user:1002"))
	require.True(t, errors.Is(err, common.ErrKeyNotFound))
}

func TestRecoveryAfterManyWritesAcrossReopen(t *testing.T) {
	path := testPath(t)
	opts := DefaultOptions(path)

	db, err := Load(opts, zap.NewNop())
	require.NoError(t, err)
	const n = 300
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%05d", i)
		require.NoError(t, db.Set([]byte(key), []byte(fmt.Sprintf("value-%05d", i))))
	}
	for i := 0; i < n; i += 3 {
		require.NoError(t, db.Delete([]byte(fmt.Sprintf("key-%05d", i))))
	}
	require.NoError(t, db.Close())

	db2, err := Load(opts, zap.NewNop())
	require.NoError(t, err)
	defer db2.Close()

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%05d", i)
		v, err := db2.Get([]byte(key))
		if i%3 == 0 {
			require.True(t, errors.Is(err, common.ErrKeyNotFound), key)
			continue
		}
		require.NoError(t, err, key)
		require.Equal(t, fmt.Sprintf("value-%05d", i), string(v))
	}
}

func TestLoadErrorIfExistsOnPreexistingDatabase(t *testing.T) {
	path := testPath(t)
	opts := DefaultOptions(path)

	db, err := Load(opts, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	opts.ErrorIfExists = true
	_, err = Load(opts, zap.NewNop())
	require.True(t, errors.Is(err, common.ErrAlreadyExists))
}

func TestLoadWithoutCreateIfMissingOnAbsentDatabase(t *testing.T) {
	opts := DefaultOptions(testPath(t))
	opts.CreateIfMissing = false

	_, err := Load(opts, zap.NewNop())
	require.Error(t, err)
}

func TestStatsTracksWritesAndReads(t *testing.T) {
	db, err := Load(DefaultOptions(testPath(t)), zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("a"), []byte("1")))
	require.NoError(t, db.Set([]byte("b"), []byte("2")))
	_, _ = db.Get([]byte("a"))

	stats := db.Stats()
	require.Equal(t, int64(2), stats.WriteCount)
	require.Equal(t, int64(1), stats.ReadCount)
}

func TestSessionIDIsUniquePerOpen(t *testing.T) {
	path := testPath(t)
	opts := DefaultOptions(path)

	db, err := Load(opts, zap.NewNop())
	require.NoError(t, err)
	first := db.SessionID()
	require.NoError(t, db.Close())

	db2, err := Load(opts, zap.NewNop())
	require.NoError(t, err)
	defer db2.Close()
	require.NotEqual(t, first, db2.SessionID())
}

func TestCompactIsANoOpOnOpenDatabase(t *testing.T) {
	db, err := Load(DefaultOptions(testPath(t)), zap.NewNop())
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Compact())
}

func TestSyncFlushesWithoutError(t *testing.T) {
	db, err := Load(DefaultOptions(testPath(t)), zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("a"), []byte("1")))
	require.NoError(t, db.Sync())
}

func TestConcurrentSetGetFromMultipleGoroutines(t *testing.T) {
	db, err := Load(DefaultOptions(testPath(t)), zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				key := []byte(fmt.Sprintf("g%d-key-%03d", g, i))
				value := []byte(fmt.Sprintf("g%d-value-%03d", g, i))
				require.NoError(t, db.Set(key, value))
				got, err := db.Get(key)
				require.NoError(t, err)
				require.Equal(t, value, got)
			}
		}(g)
	}
	wg.Wait()

	for g := 0; g < goroutines; g++ {
		for i := 0; i < perGoroutine; i++ {
			key := []byte(fmt.Sprintf("g%d-key-%03d", g, i))
			value := fmt.Sprintf("g%d-value-%03d", g, i)
			got, err := db.Get(key)
			require.NoError(t, err)
			require.Equal(t, value, string(got))
		}
	}
}

var _ common.StorageEngine = (*DB)(nil)
