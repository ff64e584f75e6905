// Package stash implements the contract runtime: a single-writer engine
// that stages capability-checked operations, commits them in a canonical
// order, and evaluates the effective state by replaying the accepted
// sequence from the durable log.
package stash

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stashworks/stash/internal/articles"
	"github.com/stashworks/stash/internal/graph"
	"github.com/stashworks/stash/internal/op"
)

// Contract is one instantiated contract: articles, staged operations, the
// accepted sequence, and the effective state derived from it.
//
// Concurrency: a single mutex serializes all writes. Submissions and
// commits never interleave, which is what makes the accepted order a pure
// function of operation content. Reads work on snapshot clones.
type Contract struct {
	mu sync.Mutex

	arts       *articles.Articles
	contractID string

	g        *graph.Graph
	snap     *Snapshot
	accepted []string
	store    Persistence
	clock    *Clock

	cfg    config
	log    *slog.Logger
	halted *RuntimeError

	// reasons records why an operation settled as rejected or conflicted.
	// Per-process diagnostics only; not persisted or rebuilt on Load.
	reasons map[string]*RuntimeError

	lastCheckpoint uint64
}

// Receipt reports the staging outcome of one submission.
type Receipt struct {
	OpID      string
	Status    graph.Status
	Duplicate bool
}

// CommitResult reports what one Commit batch settled.
type CommitResult struct {
	Accepted   []string
	Rejected   []string
	Conflicted []string
	Evicted    []string
}

// New instantiates a fresh contract from its articles, persisting the
// manifest and seeding the effective state with the genesis cells.
func New(arts *articles.Articles, store Persistence, opts ...Option) (*Contract, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	genesis := arts.GenesisCells()
	snap, err := NewSnapshot(genesis)
	if err != nil {
		return nil, fmt.Errorf("instantiate contract: %w", err)
	}

	contractID := arts.ContractID()
	if err := store.PutArticles(contractID, arts.Raw); err != nil {
		return nil, NewPersistenceError("", err)
	}

	c := &Contract{
		arts:       arts,
		contractID: contractID,
		g:          graph.New(genesis),
		snap:       snap,
		store:      store,
		clock:      NewClock(),
		cfg:        cfg,
		log:        cfg.logger.With("contract", contractID),
		reasons:    make(map[string]*RuntimeError),
	}
	c.log.Info("contract instantiated",
		"name", arts.Name,
		"genesis_cells", len(genesis))
	return c, nil
}

// Load resumes a contract from its durable log. The effective state is
// recomputed by replaying the accepted sequence from genesis; the stored
// checkpoint, when it covers the full sequence, must match the replayed
// commitment or Load fails.
func Load(store Persistence, opts ...Option) (*Contract, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	img, err := store.Load()
	if err != nil {
		return nil, NewPersistenceError("", err)
	}
	if img.ContractID == "" {
		return nil, fmt.Errorf("load contract: store holds no contract")
	}

	arts, err := articles.Load(img.ArticlesRaw)
	if err != nil {
		return nil, fmt.Errorf("load contract: %w", err)
	}
	if arts.ContractID() != img.ContractID {
		return nil, NewIntegrityError(img.ContractID,
			fmt.Sprintf("stored articles commit to %s", arts.ContractID()))
	}

	genesis := arts.GenesisCells()
	snap, err := NewSnapshot(genesis)
	if err != nil {
		return nil, fmt.Errorf("load contract: %w", err)
	}

	c := &Contract{
		arts:       arts,
		contractID: img.ContractID,
		g:          graph.New(genesis),
		snap:       snap,
		store:      store,
		clock:      NewClockAt(img.NextArrival),
		cfg:        cfg,
		log:        cfg.logger.With("contract", img.ContractID),
		reasons:    make(map[string]*RuntimeError),
	}

	for pos, opid := range img.Accepted {
		o, err := store.GetOperation(opid)
		if err != nil {
			return nil, NewPersistenceError(opid, err)
		}
		if err := o.CheckIntegrity(opid); err != nil {
			return nil, NewIntegrityError(img.ContractID, err.Error())
		}
		if err := c.replayAccepted(o, opid); err != nil {
			return nil, fmt.Errorf("replay position %d: %w", pos, err)
		}
	}
	c.lastCheckpoint = c.snap.Height()

	if cp := img.Checkpoint; cp != nil && cp.UpTo == uint64(len(img.Accepted)) {
		commitment, err := c.snap.Commitment()
		if err != nil {
			return nil, NewIntegrityError(img.ContractID, err.Error())
		}
		if commitment != cp.Commitment {
			return nil, NewIntegrityError(img.ContractID,
				fmt.Sprintf("checkpoint commitment %s does not match replayed state %s",
					cp.Commitment, commitment))
		}
	}

	// Restage operations that were still in flight. Verification happens
	// again at the next Commit.
	for _, rec := range img.Pending {
		o, err := store.GetOperation(rec.OpID)
		if err != nil {
			return nil, NewPersistenceError(rec.OpID, err)
		}
		if _, err := c.g.Insert(o, rec.OpID, rec.Arrival); err != nil {
			return nil, NewIntegrityError(img.ContractID, err.Error())
		}
	}

	c.log.Info("contract resumed",
		"accepted", len(img.Accepted),
		"pending", len(img.Pending))
	return c, nil
}

// replayAccepted re-runs one accepted operation during Load. The graph is
// driven through the same Insert/Accept path as live traffic so the live
// and spent cell sets come out identical.
func (c *Contract) replayAccepted(o *op.Operation, opid string) error {
	st, err := c.g.Insert(o, opid, 0)
	if err != nil {
		return NewIntegrityError(c.contractID, err.Error())
	}
	if st != graph.StatusReady {
		return NewIntegrityError(c.contractID,
			fmt.Sprintf("accepted operation %s replays as %s", opid, st))
	}

	consumed, err := c.consumedCells(o)
	if err != nil {
		return NewIntegrityError(c.contractID, err.Error())
	}
	produced, err := c.cfg.verifier.Verify(o, consumed, c.arts)
	if err != nil {
		return NewIntegrityError(c.contractID,
			fmt.Sprintf("accepted operation %s fails verification on replay: %v", opid, err))
	}
	if _, err := c.snap.Apply(o, opid, produced); err != nil {
		return NewIntegrityError(c.contractID, err.Error())
	}
	if _, _, err := c.g.Accept(opid); err != nil {
		return NewIntegrityError(c.contractID, err.Error())
	}
	c.accepted = append(c.accepted, opid)
	return nil
}

// Submit stages an operation: validate shape, check its commitment, persist
// it, and classify it against the current graph. Submit never verifies
// witnesses and never changes the effective state; Commit does both.
//
// Submitting the same operation twice is a no-op returning the current
// status with Duplicate set.
func (c *Contract) Submit(o *op.Operation) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted != nil {
		return Receipt{}, c.halted
	}

	if err := o.ValidateShape(); err != nil {
		c.cfg.metrics.Malformed()
		return Receipt{}, NewMalformedError("", err)
	}
	if o.ContractID != c.contractID {
		c.cfg.metrics.Malformed()
		return Receipt{}, NewMalformedError("",
			fmt.Errorf("operation targets contract %s", o.ContractID))
	}
	if len(o.Consumed) == 0 {
		c.cfg.metrics.Malformed()
		return Receipt{}, NewMalformedError("",
			fmt.Errorf("operation consumes nothing"))
	}

	opid, err := o.OpID()
	if err != nil {
		c.cfg.metrics.Malformed()
		return Receipt{}, NewMalformedError("", err)
	}

	if st, known := c.g.StatusOf(opid); known {
		c.cfg.metrics.Submitted("duplicate")
		return Receipt{OpID: opid, Status: st, Duplicate: true}, nil
	}

	arrival := c.clock.Next()
	stored, err := c.store.PutOperation(opid, o, arrival)
	if err != nil {
		return Receipt{}, c.halt(NewPersistenceError(opid, err))
	}

	st, err := c.g.Insert(o, opid, arrival)
	if err != nil {
		return Receipt{}, c.halt(NewIntegrityError(c.contractID, err.Error()))
	}
	if err := c.store.SetStatus(opid, st); err != nil {
		return Receipt{}, c.halt(NewPersistenceError(opid, err))
	}
	if st == graph.StatusConflicted {
		for _, in := range o.Consumed {
			if spender, ok := c.g.SpentBy(in.Cell); ok {
				c.reasons[opid] = NewConflictError(opid, in.Cell.String(), spender)
				break
			}
		}
	}

	c.cfg.metrics.Submitted(st.String())
	c.cfg.metrics.Pending(c.g.PendingCount())
	c.log.Debug("operation staged",
		"op", opid,
		"method", o.Method,
		"status", st.String(),
		"arrival", arrival)

	return Receipt{OpID: opid, Status: st, Duplicate: !stored}, nil
}

// Commit drains the ready set: verify every ready operation, then settle
// them in canonical order (lexicographically smallest opid first), looping
// until no operation is ready. Acceptance is terminal and append-only; a
// committed position never changes.
//
// Because the settle order depends only on operation content, any
// submission order of the same closed set followed by one Commit yields an
// identical accepted sequence.
func (c *Contract) Commit(ctx context.Context) (CommitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted != nil {
		return CommitResult{}, c.halted
	}

	batch := uuid.Must(uuid.NewV7()).String()
	start := time.Now()
	var res CommitResult

	// The drain is Kahn's algorithm with a canonical tie-break: always the
	// lexicographically smallest ready opid next. Verification outcomes are
	// cached per wave; accepting an operation never invalidates the cached
	// outcome of another still-Ready operation, because its consumed cells
	// are by definition still live.
	produced := make(map[string][]op.Cell)
	failures := make(map[string]error)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ready := c.g.ReadyIDs()
		if len(ready) == 0 {
			break
		}

		var wave []string
		for _, opid := range ready {
			if _, done := produced[opid]; done {
				continue
			}
			if _, done := failures[opid]; done {
				continue
			}
			wave = append(wave, opid)
		}
		if len(wave) > 0 {
			if err := c.verifyWave(ctx, wave, produced, failures); err != nil {
				return res, err
			}
		}

		opid := ready[0]
		if vErr, failed := failures[opid]; failed {
			if err := c.settleRejection(opid, vErr); err != nil {
				return res, err
			}
			res.Rejected = append(res.Rejected, opid)
			continue
		}

		// Produced cells must also be insertable into the live state. An
		// operation whose outputs collide with a live owner token is settled
		// as a rejection here, before anything durable happens, so the
		// accepted log only ever holds replayable positions.
		o, ok := c.g.Get(opid)
		if !ok {
			return res, c.halt(NewIntegrityError(c.contractID,
				fmt.Sprintf("ready operation %s not in graph", opid)))
		}
		if vErr := c.snap.ValidateApply(o, opid, produced[opid]); vErr != nil {
			if err := c.settleRejection(opid, vErr); err != nil {
				return res, err
			}
			res.Rejected = append(res.Rejected, opid)
			continue
		}

		conflicted, err := c.settleAcceptance(opid, produced[opid])
		if err != nil {
			return res, err
		}
		res.Accepted = append(res.Accepted, opid)
		res.Conflicted = append(res.Conflicted, conflicted...)
	}

	if cycle := c.g.DetectCycle(); cycle != nil {
		return res, c.halt(NewIntegrityError(c.contractID,
			fmt.Sprintf("dependency cycle among staged operations: %v", cycle)))
	}

	evicted, err := c.evictStale()
	if err != nil {
		return res, err
	}
	res.Evicted = evicted

	if err := c.maybeCheckpoint(); err != nil {
		return res, err
	}

	sort.Strings(res.Conflicted)
	c.cfg.metrics.Pending(c.g.PendingCount())
	c.cfg.metrics.CommitObserved(time.Since(start))
	c.log.Info("commit settled",
		"batch", batch,
		"accepted", len(res.Accepted),
		"rejected", len(res.Rejected),
		"conflicted", len(res.Conflicted),
		"evicted", len(res.Evicted),
		"height", c.snap.Height())
	return res, nil
}

// verifyWave runs the verifier over newly ready operations in parallel and
// merges the outcomes into the caches. Verification is pure, so concurrency
// cannot affect outcomes, only latency.
func (c *Contract) verifyWave(ctx context.Context, wave []string, produced map[string][]op.Cell, failures map[string]error) error {
	type outcome struct {
		opid     string
		produced []op.Cell
		err      error
	}

	outcomes := make([]outcome, len(wave))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.cfg.parallelVerify)

	for i, opid := range wave {
		o, ok := c.g.Get(opid)
		if !ok {
			return c.halt(NewIntegrityError(c.contractID,
				fmt.Sprintf("ready operation %s not in graph", opid)))
		}
		consumed, err := c.consumedCells(o)
		if err != nil {
			return c.halt(NewIntegrityError(c.contractID, err.Error()))
		}

		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cells, err := c.cfg.verifier.Verify(o, consumed, c.arts)
			outcomes[i] = outcome{opid: opid, produced: cells, err: err}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for _, out := range outcomes {
		if out.err != nil {
			failures[out.opid] = out.err
		} else {
			produced[out.opid] = out.produced
		}
	}
	return nil
}

// consumedCells resolves an operation's inputs against the live state, in
// declared input order. Every input of a Ready operation must be live.
func (c *Contract) consumedCells(o *op.Operation) ([]op.Cell, error) {
	cells := make([]op.Cell, len(o.Consumed))
	for i, in := range o.Consumed {
		cell, ok := c.snap.Get(in.Cell)
		if !ok {
			return nil, fmt.Errorf("ready operation consumes dead cell %s", in.Cell)
		}
		cells[i] = cell
	}
	return cells, nil
}

// settleAcceptance appends one verified operation to the accepted sequence:
// durable log first, then state, then graph promotion.
func (c *Contract) settleAcceptance(opid string, produced []op.Cell) ([]string, error) {
	o, _ := c.g.Get(opid)
	position := uint64(len(c.accepted))

	if err := c.store.AppendAccepted(position, opid); err != nil {
		return nil, c.halt(NewPersistenceError(opid, err))
	}
	if err := c.store.SetStatus(opid, graph.StatusAccepted); err != nil {
		return nil, c.halt(NewPersistenceError(opid, err))
	}

	if _, err := c.snap.Apply(o, opid, produced); err != nil {
		return nil, c.halt(NewIntegrityError(c.contractID, err.Error()))
	}
	_, conflicted, err := c.g.Accept(opid)
	if err != nil {
		return nil, c.halt(NewIntegrityError(c.contractID, err.Error()))
	}
	c.accepted = append(c.accepted, opid)

	for _, rival := range conflicted {
		if err := c.store.SetStatus(rival, graph.StatusConflicted); err != nil {
			return nil, c.halt(NewPersistenceError(rival, err))
		}
		if cell, ok := c.sharedInput(o, rival); ok {
			c.reasons[rival] = NewConflictError(rival, cell.String(), opid)
		}
	}

	c.cfg.metrics.Accepted(c.snap.Height())
	c.cfg.metrics.Conflicted(len(conflicted))
	c.log.Debug("operation accepted",
		"op", opid,
		"method", o.Method,
		"position", position,
		"conflicted", len(conflicted))
	return conflicted, nil
}

// sharedInput finds the first input of winner also declared by the rival.
func (c *Contract) sharedInput(winner *op.Operation, rival string) (op.CellID, bool) {
	r, ok := c.g.Get(rival)
	if !ok {
		return op.CellID{}, false
	}
	for _, win := range winner.Consumed {
		for _, rin := range r.Consumed {
			if win.Cell == rin.Cell {
				return win.Cell, true
			}
		}
	}
	return op.CellID{}, false
}

func (c *Contract) settleRejection(opid string, vErr error) error {
	if err := c.g.Reject(opid); err != nil {
		return c.halt(NewIntegrityError(c.contractID, err.Error()))
	}
	if err := c.store.SetStatus(opid, graph.StatusRejected); err != nil {
		return c.halt(NewPersistenceError(opid, err))
	}
	c.reasons[opid] = NewVerificationError(opid, vErr)
	c.cfg.metrics.Rejected()
	c.log.Info("operation rejected",
		"op", opid,
		"reason", vErr.Error())
	return nil
}

func (c *Contract) evictStale() ([]string, error) {
	if c.cfg.retentionWindow <= 0 {
		return nil, nil
	}
	cutoff := c.clock.Current() - c.cfg.retentionWindow
	if cutoff <= 0 {
		return nil, nil
	}
	evicted := c.g.EvictStale(cutoff)
	for _, opid := range evicted {
		if err := c.store.SetStatus(opid, graph.StatusEvicted); err != nil {
			return nil, c.halt(NewPersistenceError(opid, err))
		}
	}
	if len(evicted) > 0 {
		c.cfg.metrics.Evicted(len(evicted))
		c.log.Info("pending operations evicted",
			"count", len(evicted),
			"cutoff", cutoff)
	}
	return evicted, nil
}

func (c *Contract) maybeCheckpoint() error {
	if c.cfg.checkpointEvery == 0 {
		return nil
	}
	height := c.snap.Height()
	if height-c.lastCheckpoint < c.cfg.checkpointEvery {
		return nil
	}
	encoded, err := c.snap.MarshalCanonical()
	if err != nil {
		return c.halt(NewIntegrityError(c.contractID, err.Error()))
	}
	commitment := op.Commit(op.DomainSnapshot, encoded)
	if err := c.store.PutCheckpoint(height, encoded, commitment); err != nil {
		return c.halt(NewPersistenceError("", err))
	}
	c.lastCheckpoint = height
	c.log.Info("checkpoint taken",
		"height", height,
		"commitment", commitment)
	return nil
}

// halt latches a fatal error. Every subsequent write returns it until the
// contract is reloaded from the durable log.
func (c *Contract) halt(err *RuntimeError) *RuntimeError {
	if c.halted == nil {
		c.halted = err
		c.log.Error("contract halted", "code", string(err.Code), "err", err.Message)
	}
	return c.halted
}

// Halted reports the latched fatal error, nil while healthy.
func (c *Contract) Halted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted == nil {
		return nil
	}
	return c.halted
}

// ID returns the contract's content-derived identity.
func (c *Contract) ID() string {
	return c.contractID
}

// Articles returns the contract's genesis descriptor.
func (c *Contract) Articles() *articles.Articles {
	return c.arts
}

// State returns an independent copy of the current effective state.
func (c *Contract) State() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// Accepted returns the accepted sequence in position order.
func (c *Contract) Accepted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.accepted...)
}

// StatusOf reports an operation's current classification.
func (c *Contract) StatusOf(opid string) (graph.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.g.StatusOf(opid)
}

// MissingFor lists the unresolved dependencies of a pending operation.
func (c *Contract) MissingFor(opid string) []op.CellID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.g.MissingFor(opid)
}

// ReasonFor explains why an operation is not accepted: the verification
// failure behind a rejection, the winning spender behind a conflict, or the
// unresolved inputs of a pending operation. Nil for accepted operations and
// for opids this process has no diagnostic for.
func (c *Contract) ReasonFor(opid string) *RuntimeError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reason, ok := c.reasons[opid]; ok {
		return reason
	}
	if st, known := c.g.StatusOf(opid); known && st == graph.StatusPending {
		return NewUnresolvedError(opid, c.g.MissingFor(opid))
	}
	return nil
}
