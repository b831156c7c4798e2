package snapshot

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/systemshift/codegraph/internal/store"
)

// The payload is the JSON encoding of a full graph capture, zstd-compressed
// and base64-encoded into a single string property: dense, self-contained,
// and restorable without the journal.

var (
	payloadEncoder, _ = zstd.NewWriter(nil)
	payloadDecoder, _ = zstd.NewReader(nil)
)

func encodePayload(capture *store.GraphCapture) (string, error) {
	raw, err := json.Marshal(capture)
	if err != nil {
		return "", fmt.Errorf("encoding capture: %w", err)
	}
	compressed := payloadEncoder.EncodeAll(raw, nil)
	return base64.StdEncoding.EncodeToString(compressed), nil
}

func decodePayload(payload string) (*store.GraphCapture, error) {
	compressed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	raw, err := payloadDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	var capture store.GraphCapture
	if err := json.Unmarshal(raw, &capture); err != nil {
		return nil, fmt.Errorf("decoding capture: %w", err)
	}
	return &capture, nil
}
