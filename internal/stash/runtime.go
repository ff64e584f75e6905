package stash

import (
	"context"
	"fmt"

	"github.com/stashworks/stash/internal/op"
)

// Runner drives a contract from concurrent producers. Submissions funnel
// through an unbounded FIFO into the single Run goroutine, which stages them
// and commits whenever the queue quiesces. It adds asynchrony on top of
// Contract without changing any ordering guarantee: the accepted sequence is
// still a pure function of what was submitted, not of queue timing.
//
// Thread-safety model:
//   - Submit(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Runner struct {
	contract *Contract
	queue    *submitQueue
}

// NewRunner wraps a contract for asynchronous use.
func NewRunner(c *Contract) *Runner {
	return &Runner{
		contract: c,
		queue:    newSubmitQueue(),
	}
}

// Contract exposes the wrapped contract for reads.
func (r *Runner) Contract() *Contract {
	return r.contract
}

// Submit enqueues an operation and waits for its staging receipt. The
// receipt reflects classification only; settlement happens at the Run
// loop's next commit.
func (r *Runner) Submit(ctx context.Context, o *op.Operation) (Receipt, error) {
	done := make(chan submitResult, 1)
	if !r.queue.Enqueue(submission{op: o, done: done}) {
		return Receipt{}, fmt.Errorf("runner is closed")
	}
	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case res := <-done:
		return res.receipt, res.err
	}
}

// Run processes submissions until the context is cancelled or the runner is
// closed. Each drain of the queue ends with one Commit, so producers that
// stop submitting observe a settled contract.
func (r *Runner) Run(ctx context.Context) error {
	for {
		staged := 0
		for {
			s, ok := r.queue.TryDequeue()
			if !ok {
				break
			}
			receipt, err := r.contract.Submit(s.op)
			s.done <- submitResult{receipt: receipt, err: err}
			staged++
		}

		if staged > 0 {
			if _, err := r.contract.Commit(ctx); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, open := <-r.queue.Wait():
			if !open && r.queue.Len() == 0 {
				return nil
			}
		}
	}
}

// Close refuses further submissions and lets Run drain out.
func (r *Runner) Close() {
	r.queue.Close()
}
