// Package idgen computes the content-addressed and commit hashes that
// identify blobs and commits. Hashing is the only thing that gives a blob
// or commit its identity, so every helper here is a pure function of its
// inputs — no clocks, no randomness, matching the teacher's idgen package
// convention (base36 hash IDs derived purely from content).
package idgen

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// CanonicalJSON serializes v into a lexicographically key-sorted JSON
// document: map keys are sorted, so two semantically equal payloads always
// produce byte-identical output. encoding/json already sorts map[string]any
// keys; this wrapper exists so call sites have one blessed entry point and
// so nested maps round-trip through map[string]any (not struct tags) get
// the same treatment.
func CanonicalJSON(v any) ([]byte, error) {
	normalized := normalize(v)
	return json.Marshal(normalized)
}

// normalize recursively converts maps into a form whose JSON encoding is
// stable regardless of how the map was populated.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[k] = normalize(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	default:
		return val
	}
}

// ContentHash returns the hex SHA-256 of the canonical serialization of
// payload. put(payload) is idempotent precisely because this function is:
// hash(put(p)) == hash(put(p)) for all canonical p.
func ContentHash(payload any) (string, error) {
	data, err := CanonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("idgen: canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes returns the hex SHA-256 of data as-is, with no further
// serialization. Used by the store's blob layer, which receives payloads
// already canonicalized to bytes by the caller.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CommitHash computes the SHA-256 over the canonical tuple
// (content_hash | parent_hashes | operation | edit_target | timestamp |
// tract_id), exactly the fields spec.md §3 names as the commit's identity.
// Parent hashes are hashed in the order given — order is semantic content,
// so callers must pass them already in parent-edge order.
func CommitHash(contentHash string, parentHashes []string, operation, editTarget string, ts time.Time, tractID string) (string, error) {
	tuple := struct {
		ContentHash  string   `json:"content_hash"`
		ParentHashes []string `json:"parent_hashes"`
		Operation    string   `json:"operation"`
		EditTarget   string   `json:"edit_target"`
		Timestamp    int64    `json:"timestamp"`
		TractID      string   `json:"tract_id"`
	}{
		ContentHash:  contentHash,
		ParentHashes: parentHashes,
		Operation:    operation,
		EditTarget:   editTarget,
		Timestamp:    ts.UnixNano(),
		TractID:      tractID,
	}
	data, err := json.Marshal(tuple)
	if err != nil {
		return "", fmt.Errorf("idgen: marshal commit tuple: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
