// Package submission holds the pure coordination logic of the pipeline:
// idempotency key derivation, the retry/backoff policy, and the error
// taxonomy used to classify external submission failures.
package submission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidInput indicates key derivation was given malformed input.
var ErrInvalidInput = errors.New("invalid idempotency input")

// DeriveKey produces the stable content-addressed key for one
// (job, target, business data) triple. The payload is canonicalized before
// hashing so semantically identical snapshots always hash identically
// regardless of field order. The same inputs always yield the same key,
// which is the basis for at-most-once external effects.
func DeriveKey(jobID, targetID string, businessData json.RawMessage) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", fmt.Errorf("%w: job id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(targetID) == "" {
		return "", fmt.Errorf("%w: target id is required", ErrInvalidInput)
	}

	canonical, err := canonicalizeJSON(businessData)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	h := sha256.New()
	h.Write([]byte(jobID))
	h.Write([]byte{0})
	h.Write([]byte(targetID))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalizeJSON re-encodes a JSON document with object keys sorted
// recursively. encoding/json already sorts map keys on marshal, so decoding
// into generic values and re-encoding yields a canonical byte form.
func canonicalizeJSON(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("business data is required")
	}

	var value any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode business data: %w", err)
	}

	return encodeCanonical(value)
}

func encodeCanonical(value any) ([]byte, error) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			b.Write(kb)
			b.WriteByte(':')
			vb, err := encodeCanonical(v[k])
			if err != nil {
				return nil, err
			}
			b.Write(vb)
		}
		b.WriteByte('}')
		return []byte(b.String()), nil
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			ib, err := encodeCanonical(item)
			if err != nil {
				return nil, err
			}
			b.Write(ib)
		}
		b.WriteByte(']')
		return []byte(b.String()), nil
	default:
		return json.Marshal(v)
	}
}
