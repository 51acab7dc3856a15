// Package finality drives the last-irreversible-block pointer from the
// two-chain rule already folded into each block-state's
// last_final_block_num, and promotes pending finalizer policies once
// the block that installed them becomes irreversible.
package finality

import (
	"sync"

	"github.com/svnnchain/svnn/pkg/blockstate"
	"github.com/svnnchain/svnn/pkg/chain"
	"github.com/svnnchain/svnn/pkg/finalizer"
	"github.com/svnnchain/svnn/pkg/forkdb"
	"github.com/svnnchain/svnn/pkg/logging"
	"github.com/svnnchain/svnn/pkg/metrics"
	"github.com/svnnchain/svnn/pkg/svnnerr"
)

// Engine watches the fork database's head and advances its root whenever
// last_final_block_num(head) crosses previously-irreversible blocks.
type Engine struct {
	mu       sync.Mutex
	db       *forkdb.ForkDB
	registry *finalizer.Registry
	log      *logging.Logger

	lib uint32 // highest block number ever finalized; monotonic
}

// New creates a finality engine over db and registry, seeded with root's
// own block number as the initial LIB.
func New(db *forkdb.ForkDB, registry *finalizer.Registry, log *logging.Logger) *Engine {
	return &Engine{
		db:       db,
		registry: registry,
		log:      log,
		lib:      db.Root().Header.BlockNum,
	}
}

// LIB returns the current last irreversible block number.
func (e *Engine) LIB() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lib
}

// OnHeadChanged re-evaluates LIB against the current head and advances
// the fork database's root if finality has progressed. Call after every
// forkdb.Add/MarkValid that might have moved head.
func (e *Engine) OnHeadChanged() error {
	head := e.db.Head()

	e.mu.Lock()
	newLIB := head.LastFinalBlockNum
	advanced := newLIB > e.lib
	oldLIB := e.lib
	if advanced {
		e.lib = newLIB
	}
	e.mu.Unlock()

	if !advanced {
		return nil
	}

	finalID, err := e.findFinalBlockID(head, newLIB)
	if err != nil {
		return err
	}

	if err := e.db.AdvanceRoot(finalID); err != nil {
		return err
	}

	e.registry.PromoteIfFinal()

	if e.log != nil {
		e.log.WithFields(logging.Field{Key: "distance_from_head", Value: head.Header.BlockNum - newLIB}).
			LogLIBAdvance(oldLIB, newLIB, finalID.String())
	}
	metrics.LastIrreversibleBlockNum.Set(float64(newLIB))
	metrics.HeadBlockNum.Set(float64(head.Header.BlockNum))

	return nil
}

// findFinalBlockID walks back from head to the ancestor at block number
// target, the block advance_root should be called on.
func (e *Engine) findFinalBlockID(head *blockstate.BlockState, target uint32) (chain.BlockID, error) {
	bs, ok := e.db.SearchOnBranch(head.ID, target)
	if !ok {
		return chain.BlockID{}, svnnerr.ErrBlockNotFound
	}
	return bs.ID, nil
}
