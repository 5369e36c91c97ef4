// Package recovery implements the Recovery Manager (§4.5): replaying
// the write-ahead log from the start to rebuild buffer manager and
// B+ tree index state after a crash or a clean restart alike.
package recovery

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lowlevelkv/kvengine/btree"
	"github.com/lowlevelkv/kvengine/buffer"
	"github.com/lowlevelkv/kvengine/common"
	"github.com/lowlevelkv/kvengine/wal"
)

// Run rebuilds index state by replaying every SET/DELETE in the log,
// in order, into a fresh empty tree — it never trusts an on-disk page
// image left over from a prior session. A crash can leave an
// arbitrary mix of flushed and never-flushed pages behind (dirty
// frames are only durable once the background flusher or an eviction
// writes them back), so the only state recovery may rely on is the
// log itself: tree.Insert/tree.Delete replayed in the original order
// deterministically reproduce the same page structure the original
// session built, one split or merge at a time.
//
// If tree doesn't already have a root (the caller passes
// common.InvalidPageID for a pre-existing database whose on-disk root
// can't be trusted), Run allocates a fresh empty leaf and roots tree
// there before replaying anything. WAL appends are suppressed for the
// whole replay: the fresh rebuild re-triggers the same
// next-page-id/index-root-page-id control records the original
// session already logged, and those must not be written again.
//
// A DELETE of a key the replay never saw (or already removed) is a
// no-op, not an error: the log is allowed to contain a DELETE whose
// matching SET predates the log's retained window, or whose effect
// was already durable before the crash. Once replay finishes, the
// log's next log number is set to one past the highest one observed,
// so newly appended records continue the same monotonic sequence.
func Run(bufmgr *buffer.Manager, walmgr *wal.Manager, tree *btree.BTree, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	walmgr.SetReplaying(true)
	defer walmgr.SetReplaying(false)

	if tree.RootPageID() == common.InvalidPageID {
		rootFrame, err := bufmgr.AllocateNew()
		if err != nil {
			return fmt.Errorf("recovery: allocate fresh root: %w", err)
		}
		rootFrame.Latch(buffer.LatchWrite)
		btree.InitLeaf(rootFrame.Data(), rootFrame.PageID(), common.InvalidPageID)
		rootFrame.Unlatch(buffer.LatchWrite)
		tree.SetRootPageID(rootFrame.PageID())
		bufmgr.Unpin(rootFrame, true)
	}

	it, err := walmgr.IterateFromStart()
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	var maxLogNumber uint64
	var sawAny bool

	for {
		rec, ok, err := it.Next()
		if err != nil {
			return fmt.Errorf("recovery: %w", err)
		}
		if !ok {
			break
		}

		if !sawAny || rec.LogNumber > maxLogNumber {
			maxLogNumber = rec.LogNumber
		}
		sawAny = true

		switch string(rec.Key) {
		case common.NextPageIDKey, common.IndexRootPageIDKey:
			// These describe page state from the session being
			// recovered. Replaying into a fresh tree reconstructs
			// that state itself, deterministically, by re-running the
			// SET/DELETE history below, so the logged values are not
			// consulted.
			continue
		}

		switch rec.Kind {
		case wal.RecordSet:
			if err := tree.Insert(rec.Key, rec.Value); err != nil {
				return fmt.Errorf("recovery: replay set (log number %d): %w", rec.LogNumber, err)
			}
		case wal.RecordDelete:
			if err := tree.Delete(rec.Key); err != nil {
				if errors.Is(err, common.ErrKeyNotFound) {
					continue
				}
				return fmt.Errorf("recovery: replay delete (log number %d): %w", rec.LogNumber, err)
			}
		}
	}

	if sawAny {
		walmgr.SetNextLogNumber(maxLogNumber + 1)
	}

	log.Info("recovery complete",
		zap.Bool("log_replayed", sawAny),
		zap.Uint64("next_log_number", walmgr.NextLogNumber()),
		zap.Int32("root_page_id", tree.RootPageID()),
	)
	return nil
}
