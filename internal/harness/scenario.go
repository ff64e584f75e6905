package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test: a contract manifest, a sequence of
// operation submissions, and the expected settlement.
//
// Cells are referenced by alias: "genesis/<i>" names the contract's i-th
// genesis cell, "<step>/<i>" names output i of a prior step. Aliases resolve
// to content-addressed cell ids at run time, so scenarios stay readable while
// exercising the real addressing scheme.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Articles is the path to the CUE manifest, relative to the scenario
	// file location.
	Articles string `yaml:"articles"`

	// Keys declares deterministic key material by name.
	Keys map[string]KeySpec `yaml:"keys,omitempty"`

	// Steps are the operations to submit, in order. Submission order must
	// not affect the outcome; the runner asserts the expectations after a
	// single commit.
	Steps []Step `yaml:"steps"`

	// ExpectState validates the final effective state.
	ExpectState *StateExpect `yaml:"expect_state,omitempty"`
}

// KeySpec names deterministic key material derived from a one-byte tag.
type KeySpec struct {
	// Kind is "ed25519" or "dilithium3".
	Kind string `yaml:"kind"`

	// Tag seeds the deterministic key derivation.
	Tag uint8 `yaml:"tag"`
}

// Step is one operation submission.
type Step struct {
	// Name labels the step; later steps reference its outputs as
	// "<name>/<index>".
	Name string `yaml:"name"`

	// Method is the articles method to call.
	Method string `yaml:"method"`

	// Nonce distinguishes otherwise identical calls.
	Nonce int64 `yaml:"nonce,omitempty"`

	// Consume lists the cells to destroy.
	Consume []ConsumeSpec `yaml:"consume"`

	// Produce lists the cells to create.
	Produce []ProduceSpec `yaml:"produce"`

	// Expect is the settlement expectation: "accepted", "conflicted",
	// "rejected", or "pending". Empty means accepted.
	Expect string `yaml:"expect,omitempty"`

	// Commit settles the batch right after this step, so later steps
	// observe its outcome instead of racing it within one batch.
	Commit bool `yaml:"commit,omitempty"`
}

// ConsumeSpec names a consumed cell and how to satisfy its lock.
type ConsumeSpec struct {
	// Cell is the alias of the consumed cell.
	Cell string `yaml:"cell"`

	// Witness describes how to produce the witness. Nil means open lock.
	Witness *WitnessSpec `yaml:"witness,omitempty"`
}

// WitnessSpec selects a satisfier for a lock.
type WitnessSpec struct {
	// Preimage satisfies a sha3-256 lock.
	Preimage string `yaml:"preimage,omitempty"`

	// Key names a declared key for signature locks.
	Key string `yaml:"key,omitempty"`
}

// ProduceSpec describes an output cell.
type ProduceSpec struct {
	Label string    `yaml:"label"`
	Owner string    `yaml:"owner,omitempty"`
	Value any       `yaml:"value"`
	Lock  *LockSpec `yaml:"lock,omitempty"`
}

// LockSpec describes an output lock. Nil means open.
type LockSpec struct {
	// Kind is one of the supported lock kinds; empty means open.
	Kind string `yaml:"kind,omitempty"`

	// Preimage locks the cell to sha3-256(preimage).
	Preimage string `yaml:"preimage,omitempty"`

	// Key locks the cell to a declared key's public half.
	Key string `yaml:"key,omitempty"`
}

// StateExpect validates the final effective state.
type StateExpect struct {
	// Height is the expected accepted-sequence length.
	Height *uint64 `yaml:"height,omitempty"`

	// Counts maps cell labels to expected live counts. Subset match.
	Counts map[string]int `yaml:"counts,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. The articles path is
// resolved relative to the scenario file. Unknown fields are rejected so
// typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if !filepath.IsAbs(scenario.Articles) && scenario.Articles != "" {
		scenario.Articles = filepath.Join(filepath.Dir(path), scenario.Articles)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Articles == "" {
		return fmt.Errorf("articles path is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	seen := make(map[string]struct{}, len(s.Steps))
	for i, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("step %q declared twice", step.Name)
		}
		seen[step.Name] = struct{}{}
		if step.Method == "" {
			return fmt.Errorf("step %q: method is required", step.Name)
		}
		if len(step.Consume) == 0 {
			return fmt.Errorf("step %q: consume list must be non-empty", step.Name)
		}
		switch step.Expect {
		case "", "accepted", "conflicted", "rejected", "pending":
		default:
			return fmt.Errorf("step %q: unknown expectation %q", step.Name, step.Expect)
		}
		for _, ws := range step.Consume {
			if ws.Witness != nil && ws.Witness.Preimage != "" && ws.Witness.Key != "" {
				return fmt.Errorf("step %q: witness declares both preimage and key", step.Name)
			}
		}
	}

	for name, key := range s.Keys {
		switch key.Kind {
		case "ed25519", "dilithium3":
		default:
			return fmt.Errorf("key %q: unknown kind %q", name, key.Kind)
		}
	}
	return nil
}
