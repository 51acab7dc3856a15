// Package verifypool offloads BLS signature verification for incoming
// votes onto a worker pool so the network ingress path never blocks on
// a pairing check. Submit queues a job without blocking, and the job's
// callback fires once verification completes. The pool keeps no tally
// of its own; nothing is provisionally tallied or rolled back here.
package verifypool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/svnnchain/svnn/pkg/crypto/bls"
	"github.com/svnnchain/svnn/pkg/metrics"
)

// Job is one signature verification to run off the ingress path.
type Job struct {
	PublicKey *bls.PublicKey
	Signature *bls.Signature
	Message   []byte
	// OnResult is invoked from a pool worker goroutine with the
	// verification outcome. It must not block.
	OnResult func(ok bool)
}

// Pool runs verification jobs on a bounded number of worker goroutines.
type Pool struct {
	jobs   chan Job
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup
}

// New starts a pool of n workers, each pulling from a shared job queue
// until Shutdown is called or ctx is done.
func New(ctx context.Context, workers int, queueDepth int) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		jobs:   make(chan Job, queueDepth),
		cancel: cancel,
		ctx:    ctx,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(job)
		}
	}
}

func (p *Pool) run(job Job) {
	select {
	case <-p.ctx.Done():
		// Shutting down: abandon the job, its vote is discarded by the
		// caller rather than resolved either way.
		return
	default:
	}

	verified := job.PublicKey.Verify(job.Signature, job.Message)
	result := "invalid"
	if verified {
		result = "valid"
	}
	metrics.SignatureVerifications.WithLabelValues(result).Inc()

	if job.OnResult != nil {
		job.OnResult(verified)
	}
}

// Submit enqueues a verification job. Returns false if the pool is
// shutting down or the queue is full and the caller should treat the
// vote as busy/dropped rather than block.
func (p *Pool) Submit(job Job) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Shutdown cancels all pending and in-flight jobs and waits for workers
// to exit. Jobs already dequeued run to completion unless they observe
// cancellation first; queued-but-undequeued jobs are dropped.
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
}

// VerifyBatch verifies a set of independent (pk, sig, msg) triples
// concurrently via an errgroup, for batch checks outside the per-vote
// path (which goes through Submit).
func VerifyBatch(ctx context.Context, pks []*bls.PublicKey, sigs []*bls.Signature, msgs [][]byte) ([]bool, error) {
	results := make([]bool, len(pks))
	g, _ := errgroup.WithContext(ctx)
	for i := range pks {
		i := i
		g.Go(func() error {
			results[i] = pks[i].Verify(sigs[i], msgs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
