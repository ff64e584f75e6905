// Package harness runs YAML conformance scenarios against a live contract.
//
// Unlike a fixture-replay harness, every scenario drives the real runtime:
// operations are built with the production builder, witnesses are real
// signatures over real digests, and settlement happens through Submit and
// Commit against an in-memory store. A scenario passing means the engine
// produced the expected outcome, not that the harness wrote it.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/stashworks/stash/internal/articles"
	"github.com/stashworks/stash/internal/op"
	"github.com/stashworks/stash/internal/stash"
	"github.com/stashworks/stash/internal/testutil"
	"github.com/stashworks/stash/internal/verify"
)

// Result reports a scenario run.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool

	// Failures lists each violated expectation.
	Failures []string

	// Statuses maps step names to their settled status.
	Statuses map[string]string

	// OpIDs maps step names to their operation commitments.
	OpIDs map[string]string

	// State is the final effective state.
	State *stash.Snapshot
}

func (r *Result) fail(format string, args ...any) {
	r.Pass = false
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

type namedKey struct {
	spec      KeySpec
	lock      op.Lock
	satisfier verify.Satisfier
}

// Run executes a scenario against a fresh in-memory contract.
func Run(scenario *Scenario) (*Result, error) {
	arts, err := articles.LoadFile(scenario.Articles)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	contract, err := stash.New(arts, stash.NewMemStore(), stash.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	keys, err := deriveKeys(scenario.Keys)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	result := &Result{
		Pass:     true,
		Statuses: make(map[string]string, len(scenario.Steps)),
		OpIDs:    make(map[string]string, len(scenario.Steps)),
	}

	// Build and submit in declared order. Aliases to a later step's outputs
	// cannot resolve, which is fine: a scenario that needs forward references
	// is describing an impossible dependency anyway.
	producers := map[string]string{"genesis": contract.ID()}
	for _, step := range scenario.Steps {
		o, err := buildStep(contract.ID(), step, producers, keys)
		if err != nil {
			return nil, fmt.Errorf("scenario %s, step %s: %w", scenario.Name, step.Name, err)
		}
		receipt, err := contract.Submit(o)
		if err != nil {
			return nil, fmt.Errorf("scenario %s, step %s: %w", scenario.Name, step.Name, err)
		}
		producers[step.Name] = receipt.OpID
		result.OpIDs[step.Name] = receipt.OpID

		if step.Commit {
			if _, err := contract.Commit(context.Background()); err != nil {
				return nil, fmt.Errorf("scenario %s, step %s: commit: %w", scenario.Name, step.Name, err)
			}
		}
	}

	if _, err := contract.Commit(context.Background()); err != nil {
		return nil, fmt.Errorf("scenario %s: commit: %w", scenario.Name, err)
	}

	for _, step := range scenario.Steps {
		want := step.Expect
		if want == "" {
			want = "accepted"
		}
		status, known := contract.StatusOf(result.OpIDs[step.Name])
		got := status.String()
		if !known {
			got = "evicted"
		}
		result.Statuses[step.Name] = got
		if got != want {
			result.fail("step %s: expected %s, got %s", step.Name, want, got)
		}
	}

	result.State = contract.State()
	checkState(result, scenario.ExpectState)
	return result, nil
}

func checkState(result *Result, expect *StateExpect) {
	if expect == nil {
		return
	}
	if expect.Height != nil && result.State.Height() != *expect.Height {
		result.fail("state height: expected %d, got %d", *expect.Height, result.State.Height())
	}
	for label, want := range expect.Counts {
		if got := result.State.Count(label); got != want {
			result.fail("state count %q: expected %d, got %d", label, want, got)
		}
	}
}

func deriveKeys(specs map[string]KeySpec) (map[string]namedKey, error) {
	keys := make(map[string]namedKey, len(specs))
	for name, spec := range specs {
		switch spec.Kind {
		case "ed25519":
			pub, priv := testutil.Ed25519Key(spec.Tag)
			keys[name] = namedKey{
				spec:      spec,
				lock:      verify.Ed25519Lock(pub),
				satisfier: verify.WithEd25519(priv),
			}
		case "dilithium3":
			pub, priv := testutil.Dilithium3Key(spec.Tag)
			lock, err := verify.Dilithium3Lock(pub)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", name, err)
			}
			keys[name] = namedKey{
				spec:      spec,
				lock:      lock,
				satisfier: verify.WithDilithium3(priv),
			}
		default:
			return nil, fmt.Errorf("key %q: unknown kind %q", name, spec.Kind)
		}
	}
	return keys, nil
}

func buildStep(contractID string, step Step, producers map[string]string, keys map[string]namedKey) (*op.Operation, error) {
	b := verify.NewBuilder(contractID, step.Method).Nonce(step.Nonce)

	for _, cs := range step.Consume {
		cell, err := resolveCell(cs.Cell, producers)
		if err != nil {
			return nil, err
		}
		sat, err := resolveWitness(cs.Witness, keys)
		if err != nil {
			return nil, fmt.Errorf("cell %s: %w", cs.Cell, err)
		}
		b.Consume(cell, sat)
	}

	for _, ps := range step.Produce {
		value, err := op.ToValue(ps.Value)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", ps.Label, err)
		}
		lock, err := resolveLock(ps.Lock, keys)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", ps.Label, err)
		}
		b.Produce(ps.Label, ps.Owner, value, lock)
	}

	return b.Build()
}

// resolveCell maps an alias "<producer>/<index>" to a CellID, where the
// producer is "genesis" or a prior step name. A prefix starting with "bafy"
// passes through as a literal commitment, letting scenarios stage operations
// whose dependency never arrives.
func resolveCell(alias string, producers map[string]string) (op.CellID, error) {
	slash := strings.LastIndexByte(alias, '/')
	if slash <= 0 || slash == len(alias)-1 {
		return op.CellID{}, fmt.Errorf("malformed cell alias %q", alias)
	}
	producer, ok := producers[alias[:slash]]
	if !ok {
		if !strings.HasPrefix(alias, "bafy") {
			return op.CellID{}, fmt.Errorf("cell alias %q references unknown step %q", alias, alias[:slash])
		}
		producer = alias[:slash]
	}
	index, err := strconv.ParseUint(alias[slash+1:], 10, 16)
	if err != nil {
		return op.CellID{}, fmt.Errorf("malformed cell alias %q: %w", alias, err)
	}
	return op.CellID{Producer: producer, Index: uint16(index)}, nil
}

func resolveWitness(ws *WitnessSpec, keys map[string]namedKey) (verify.Satisfier, error) {
	switch {
	case ws == nil:
		return verify.Open(), nil
	case ws.Preimage != "":
		return verify.WithPreimage([]byte(ws.Preimage)), nil
	case ws.Key != "":
		key, ok := keys[ws.Key]
		if !ok {
			return nil, fmt.Errorf("witness references undeclared key %q", ws.Key)
		}
		return key.satisfier, nil
	default:
		return verify.Open(), nil
	}
}

func resolveLock(ls *LockSpec, keys map[string]namedKey) (op.Lock, error) {
	switch {
	case ls == nil:
		return op.Lock{Kind: op.LockOpen}, nil
	case ls.Preimage != "":
		return verify.PreimageLock([]byte(ls.Preimage)), nil
	case ls.Key != "":
		key, ok := keys[ls.Key]
		if !ok {
			return op.Lock{}, fmt.Errorf("lock references undeclared key %q", ls.Key)
		}
		return key.lock, nil
	case ls.Kind == "" || ls.Kind == op.LockOpen:
		return op.Lock{Kind: op.LockOpen}, nil
	default:
		return op.Lock{}, fmt.Errorf("lock kind %q needs a preimage or key", ls.Kind)
	}
}
