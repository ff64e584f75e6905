package op

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Lock kinds supported by the embedded verifier. A lock is the capability
// rule guarding a cell: presenting a witness that satisfies the lock
// authorizes consuming the cell.
const (
	// LockOpen has no guard; any witness (including none) admits.
	LockOpen = "open"
	// LockPreimage admits a witness whose SHA3-256 digest equals the lock data.
	LockPreimage = "sha3-256"
	// LockEd25519 admits an Ed25519 signature over the operation's signing
	// payload, verified against the public key in the lock data.
	LockEd25519 = "ed25519"
	// LockDilithium3 is like LockEd25519 with a Dilithium mode3 key.
	LockDilithium3 = "dilithium3"
)

// CellID addresses a single-use unit of state. It is derived from the
// producing operation's commitment plus the output index, so cell identity is
// as unforgeable as operation identity.
type CellID struct {
	Producer string `json:"producer"`
	Index    uint16 `json:"index"`
}

// String renders the id as "<producer>/<index>". Byte-lexicographic ordering
// of the rendered form is the canonical cell ordering.
func (id CellID) String() string {
	return id.Producer + "/" + strconv.FormatUint(uint64(id.Index), 10)
}

// ParseCellID parses the "<producer>/<index>" form.
func ParseCellID(s string) (CellID, error) {
	slash := strings.LastIndexByte(s, '/')
	if slash <= 0 || slash == len(s)-1 {
		return CellID{}, fmt.Errorf("malformed cell id %q", s)
	}
	idx, err := strconv.ParseUint(s[slash+1:], 10, 16)
	if err != nil {
		return CellID{}, fmt.Errorf("malformed cell id %q: %w", s, err)
	}
	return CellID{Producer: s[:slash], Index: uint16(idx)}, nil
}

// MarshalText lets CellID serve as a JSON object key and a compact field.
func (id CellID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the compact form.
func (id *CellID) UnmarshalText(text []byte) error {
	parsed, err := ParseCellID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Lock is the capability rule bound to a cell.
type Lock struct {
	Kind string `json:"kind"`
	Data []byte `json:"data,omitempty"`
}

func (l Lock) canonical() Map {
	m := Map{"kind": Str(l.Kind)}
	if len(l.Data) > 0 {
		m["data"] = Str(base64.StdEncoding.EncodeToString(l.Data))
	}
	return m
}

// Cell is a single-use unit of contract state: produced by exactly one
// operation, consumed by at most one.
type Cell struct {
	ID    CellID `json:"id"`
	Label string `json:"label"`
	Owner string `json:"owner,omitempty"`
	Value Value  `json:"value"`
	Lock  Lock   `json:"lock"`
}

// Canonical renders the cell as a canonical-JSON-ready map. Snapshot
// commitments are computed over sorted lists of these.
func (c Cell) Canonical() Map {
	m := Map{
		"id":    Str(c.ID.String()),
		"label": Str(c.Label),
		"value": c.Value,
		"lock":  c.Lock.canonical(),
	}
	if c.Owner != "" {
		m["owner"] = Str(c.Owner)
	}
	return m
}

// UnmarshalJSON decodes a cell, routing the payload through UnmarshalValue so
// the float/null constraints hold for data read back from storage.
func (c *Cell) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    CellID          `json:"id"`
		Label string          `json:"label"`
		Owner string          `json:"owner"`
		Value json.RawMessage `json:"value"`
		Lock  Lock            `json:"lock"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	val, err := UnmarshalValue(raw.Value)
	if err != nil {
		return fmt.Errorf("cell %s: %w", raw.ID, err)
	}
	*c = Cell{ID: raw.ID, Label: raw.Label, Owner: raw.Owner, Value: val, Lock: raw.Lock}
	return nil
}

// Input names a consumed cell together with the witness satisfying its lock.
type Input struct {
	Cell    CellID `json:"cell"`
	Witness []byte `json:"witness,omitempty"`
}

// Output describes a cell to be created. Its CellID is assigned at
// verification time from the operation commitment and output position.
type Output struct {
	Label string `json:"label"`
	Owner string `json:"owner,omitempty"`
	Value Value  `json:"value"`
	Lock  Lock   `json:"lock"`
}

// UnmarshalJSON mirrors Cell.UnmarshalJSON for outputs.
func (o *Output) UnmarshalJSON(data []byte) error {
	var raw struct {
		Label string          `json:"label"`
		Owner string          `json:"owner"`
		Value json.RawMessage `json:"value"`
		Lock  Lock            `json:"lock"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	val, err := UnmarshalValue(raw.Value)
	if err != nil {
		return fmt.Errorf("output %q: %w", raw.Label, err)
	}
	*o = Output{Label: raw.Label, Owner: raw.Owner, Value: val, Lock: raw.Lock}
	return nil
}

// Operation is a committed state transition: it destroys the consumed cells
// and creates the produced ones. The zero consumed case is reserved for
// genesis; every user operation must consume at least one cell.
type Operation struct {
	ContractID string   `json:"contract_id"`
	Method     string   `json:"method"`
	Nonce      int64    `json:"nonce"`
	Consumed   []Input  `json:"consumed"`
	Produced   []Output `json:"produced"`

	// Data is an immutable payload appended alongside the transition. It is
	// covered by the commitment but never becomes a cell, so it can never be
	// consumed.
	Data Value `json:"data,omitempty"`
}

// UnmarshalJSON routes the data payload through UnmarshalValue so the
// float/null constraints hold for operations read back from storage.
func (o *Operation) UnmarshalJSON(b []byte) error {
	var raw struct {
		ContractID string          `json:"contract_id"`
		Method     string          `json:"method"`
		Nonce      int64           `json:"nonce"`
		Consumed   []Input         `json:"consumed"`
		Produced   []Output        `json:"produced"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var data Value
	if len(raw.Data) > 0 {
		v, err := UnmarshalValue(raw.Data)
		if err != nil {
			return fmt.Errorf("operation data: %w", err)
		}
		data = v
	}
	*o = Operation{
		ContractID: raw.ContractID,
		Method:     raw.Method,
		Nonce:      raw.Nonce,
		Consumed:   raw.Consumed,
		Produced:   raw.Produced,
		Data:       data,
	}
	return nil
}

// OpID computes the operation's content-derived identity: a commitment over
// the domain-separated canonical encoding of the full content, witnesses
// included. Stable across processes and replays.
func (o *Operation) OpID() (string, error) {
	canonical, err := MarshalCanonical(o.canonicalMap(true))
	if err != nil {
		return "", fmt.Errorf("op id: %w", err)
	}
	return Commit(DomainOperation, canonical), nil
}

// SigningPayload is the canonical content with witnesses omitted. Signature
// witnesses sign this payload; they cannot sign the OpID itself since the
// OpID covers the witnesses.
func (o *Operation) SigningPayload() ([]byte, error) {
	canonical, err := MarshalCanonical(o.canonicalMap(false))
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}
	return canonical, nil
}

// CheckIntegrity recomputes the commitment and compares it with the claimed
// id. A mismatch means the content was mutated after commitment.
func (o *Operation) CheckIntegrity(claimed string) error {
	actual, err := o.OpID()
	if err != nil {
		return err
	}
	if actual != claimed {
		return fmt.Errorf("operation commitment mismatch: claimed %s, computed %s", claimed, actual)
	}
	return nil
}

// ValidateShape rejects structurally invalid operations before any
// cryptographic work: empty method, duplicate consumed cells, or outputs
// without labels.
func (o *Operation) ValidateShape() error {
	if o.ContractID == "" {
		return fmt.Errorf("operation missing contract id")
	}
	if o.Method == "" {
		return fmt.Errorf("operation missing method")
	}
	seen := make(map[CellID]struct{}, len(o.Consumed))
	for _, in := range o.Consumed {
		if _, dup := seen[in.Cell]; dup {
			return fmt.Errorf("operation consumes cell %s twice", in.Cell)
		}
		seen[in.Cell] = struct{}{}
	}
	for i, out := range o.Produced {
		if out.Label == "" {
			return fmt.Errorf("output %d missing label", i)
		}
		if out.Value == nil {
			return fmt.Errorf("output %d (%s) missing value", i, out.Label)
		}
	}
	return nil
}

func (o *Operation) canonicalMap(includeWitnesses bool) Map {
	consumed := make(List, len(o.Consumed))
	for i, in := range o.Consumed {
		m := Map{"cell": Str(in.Cell.String())}
		if includeWitnesses && len(in.Witness) > 0 {
			m["witness"] = Str(base64.StdEncoding.EncodeToString(in.Witness))
		}
		consumed[i] = m
	}

	produced := make(List, len(o.Produced))
	for i, out := range o.Produced {
		m := Map{
			"label": Str(out.Label),
			"value": out.Value,
			"lock":  out.Lock.canonical(),
		}
		if out.Owner != "" {
			m["owner"] = Str(out.Owner)
		}
		produced[i] = m
	}

	m := Map{
		"contract_id": Str(o.ContractID),
		"method":      Str(o.Method),
		"nonce":       Int(o.Nonce),
		"consumed":    consumed,
		"produced":    produced,
	}
	if o.Data != nil {
		m["data"] = o.Data
	}
	return m
}
