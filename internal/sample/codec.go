package sample

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrDecodeFailed  = errors.New("failed to decode sample payload")
	ErrInvalidSample = errors.New("sample payload is structurally invalid")
)

// Decode parses a JSON-encoded sample as published by acquisition nodes.
// It returns ErrDecodeFailed (wrapping the original error) when the payload
// is not valid JSON and ErrInvalidSample when the decoded sample fails
// structural validation.
func Decode(data []byte) (Sample, error) {
	var s Sample
	if err := json.Unmarshal(data, &s); err != nil {
		return Sample{}, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	if !s.Valid() {
		return Sample{}, ErrInvalidSample
	}
	return s, nil
}

// Encode serializes a sample for transport.
func Encode(s Sample) ([]byte, error) {
	return json.Marshal(s)
}
