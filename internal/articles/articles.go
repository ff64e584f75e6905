// Package articles loads and validates contract articles: the immutable
// genesis descriptor defining a contract's name, its method table (the
// capability rules), and the initial cell set.
//
// Articles are authored as CUE manifests and validated against the embedded
// schema before a contract is issued. Once issued they are never mutated;
// the contract id is a commitment over their canonical encoding, and every
// operation is evaluated relative to them.
package articles

import (
	"encoding/base64"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	_ "embed"

	"github.com/stashworks/stash/internal/op"
)

//go:embed schema.cue
var schemaCUE string

// Method is a capability rule: the consumption bounds and producible labels
// for one named operation kind.
type Method struct {
	MinConsumes int
	MaxConsumes int
	Produces    []string
}

// GenesisCell describes an initial cell. Its CellID is assigned from the
// contract id at instantiation, so the manifest never names cell ids.
type GenesisCell struct {
	Label string
	Owner string
	Value op.Value
	Lock  op.Lock
}

// Articles is the immutable genesis descriptor of a contract.
type Articles struct {
	Name    string
	Methods map[string]Method
	Genesis []GenesisCell

	// Raw is the manifest source the articles were loaded from. Persisted
	// verbatim so recovery revalidates exactly what was issued.
	Raw []byte

	contractID string
}

// Load parses, validates, and decodes a CUE articles manifest.
func Load(manifest []byte) (*Articles, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("articles schema: %w", err)
	}

	doc := ctx.CompileBytes(manifest, cue.Filename("articles.cue"))
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("parse articles: %w", err)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return nil, fmt.Errorf("validate articles: %w", err)
	}

	contract := unified.LookupPath(cue.ParsePath("contract"))
	if !contract.Exists() {
		return nil, fmt.Errorf("articles missing contract declaration")
	}

	var raw struct {
		Name    string `json:"name"`
		Methods map[string]struct {
			Consumes struct {
				Min int `json:"min"`
				Max int `json:"max"`
			} `json:"consumes"`
			Produces []string `json:"produces"`
		} `json:"methods"`
		Genesis []struct {
			Label string `json:"label"`
			Owner string `json:"owner"`
			Value any    `json:"value"`
			Lock  struct {
				Kind string `json:"kind"`
				Data string `json:"data"`
			} `json:"lock"`
		} `json:"genesis"`
	}
	if err := contract.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode articles: %w", err)
	}

	a := &Articles{
		Name:    raw.Name,
		Methods: make(map[string]Method, len(raw.Methods)),
		Raw:     append([]byte(nil), manifest...),
	}

	for name, m := range raw.Methods {
		if m.Consumes.Min > m.Consumes.Max {
			return nil, fmt.Errorf("method %q: consumes.min %d exceeds consumes.max %d", name, m.Consumes.Min, m.Consumes.Max)
		}
		a.Methods[name] = Method{
			MinConsumes: m.Consumes.Min,
			MaxConsumes: m.Consumes.Max,
			Produces:    m.Produces,
		}
	}

	owners := make(map[string]struct{}, len(raw.Genesis))
	for i, g := range raw.Genesis {
		value, err := op.ToValue(g.Value)
		if err != nil {
			return nil, fmt.Errorf("genesis cell %d (%s): %w", i, g.Label, err)
		}
		lock := op.Lock{Kind: g.Lock.Kind}
		if g.Lock.Data != "" {
			data, err := base64.StdEncoding.DecodeString(g.Lock.Data)
			if err != nil {
				return nil, fmt.Errorf("genesis cell %d (%s): lock data is not base64: %w", i, g.Label, err)
			}
			lock.Data = data
		}
		if lock.Kind != op.LockOpen && len(lock.Data) == 0 {
			return nil, fmt.Errorf("genesis cell %d (%s): lock kind %q requires data", i, g.Label, lock.Kind)
		}
		if g.Owner != "" {
			if _, dup := owners[g.Owner]; dup {
				return nil, fmt.Errorf("genesis cell %d (%s): duplicate owner token %q", i, g.Label, g.Owner)
			}
			owners[g.Owner] = struct{}{}
		}
		a.Genesis = append(a.Genesis, GenesisCell{
			Label: g.Label,
			Owner: g.Owner,
			Value: value,
			Lock:  lock,
		})
	}

	if _, err := a.computeContractID(); err != nil {
		return nil, err
	}
	return a, nil
}

// LoadFile loads articles from a manifest file on disk.
func LoadFile(path string) (*Articles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read articles: %w", err)
	}
	return Load(data)
}

// ContractID is the content-derived identity of the contract: a commitment
// over the canonical encoding of the articles. It also acts as the genesis
// operation id; genesis cells are addressed from it.
func (a *Articles) ContractID() string {
	if a.contractID == "" {
		id, err := a.computeContractID()
		if err != nil {
			// Load validated the articles; the canonical encoding of
			// validated articles cannot fail.
			panic("articles: " + err.Error())
		}
		a.contractID = id
	}
	return a.contractID
}

func (a *Articles) computeContractID() (string, error) {
	methods := make(op.Map, len(a.Methods))
	for name, m := range a.Methods {
		produces := make(op.List, len(m.Produces))
		for i, p := range m.Produces {
			produces[i] = op.Str(p)
		}
		methods[name] = op.Map{
			"consumes": op.Map{"min": op.Int(int64(m.MinConsumes)), "max": op.Int(int64(m.MaxConsumes))},
			"produces": produces,
		}
	}

	genesis := make(op.List, len(a.Genesis))
	for i, g := range a.Genesis {
		cell := op.Map{
			"label": op.Str(g.Label),
			"value": g.Value,
			"lock":  op.Map{"kind": op.Str(g.Lock.Kind)},
		}
		if len(g.Lock.Data) > 0 {
			cell["lock"] = op.Map{
				"kind": op.Str(g.Lock.Kind),
				"data": op.Str(base64.StdEncoding.EncodeToString(g.Lock.Data)),
			}
		}
		if g.Owner != "" {
			cell["owner"] = op.Str(g.Owner)
		}
		genesis[i] = cell
	}

	canonical, err := op.MarshalCanonical(op.Map{
		"name":    op.Str(a.Name),
		"methods": methods,
		"genesis": genesis,
	})
	if err != nil {
		return "", fmt.Errorf("articles canonical encoding: %w", err)
	}

	id := op.Commit(op.DomainArticles, canonical)
	a.contractID = id
	return id, nil
}

// GenesisCells materializes the initial cell set with assigned ids.
func (a *Articles) GenesisCells() []op.Cell {
	cells := make([]op.Cell, len(a.Genesis))
	for i, g := range a.Genesis {
		cells[i] = op.Cell{
			ID:    op.CellID{Producer: a.ContractID(), Index: uint16(i)},
			Label: g.Label,
			Owner: g.Owner,
			Value: g.Value,
			Lock:  g.Lock,
		}
	}
	return cells
}

// CheckCall validates an operation's shape against the method table: the
// method must exist, the consumption count must be within bounds, and every
// produced label must be allowed.
func (a *Articles) CheckCall(method string, consumed int, produced []string) error {
	m, ok := a.Methods[method]
	if !ok {
		return fmt.Errorf("unknown method %q", method)
	}
	if consumed < m.MinConsumes || consumed > m.MaxConsumes {
		return fmt.Errorf("method %q consumes %d cells, allowed %d..%d", method, consumed, m.MinConsumes, m.MaxConsumes)
	}
	allowed := make(map[string]struct{}, len(m.Produces))
	for _, p := range m.Produces {
		allowed[p] = struct{}{}
	}
	for _, label := range produced {
		if _, ok := allowed[label]; !ok {
			return fmt.Errorf("method %q may not produce label %q", method, label)
		}
	}
	return nil
}
