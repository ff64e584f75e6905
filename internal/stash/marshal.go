package stash

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// unmarshalStrict decodes JSON rejecting unknown fields. Checkpoint and log
// payloads are machine-written; an unknown field means version skew or
// corruption, not user error.
func unmarshalStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON document")
	}
	return nil
}
