package core

import (
	"encoding/json"
	"fmt"
)

// DecodeState decodes a journal before/after state map back into a typed
// entity. States are the JSON field maps of the entities themselves, so a
// JSON round trip is the exact inverse of how they were produced.
func DecodeState(state map[string]interface{}, dst interface{}) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := json.Unmarshal(encoded, dst); err != nil {
		return fmt.Errorf("decoding state: %w", err)
	}
	return nil
}
