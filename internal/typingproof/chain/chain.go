// Package chain implements HashChainManager: the deterministic hashing
// primitives and structural validators every other typing-proof component
// is built on. It holds no session state of its own.
package chain

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// MonotonicTimestampDelta is the small positive constant (milliseconds)
// ensureMonotonicTimestamp advances a non-increasing claimed timestamp by.
const MonotonicTimestampDelta = 10

// ComputeHash returns the lowercase hex SHA-256 digest of b.
func ComputeHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// InitialHash derives a session's seed hash from the device identifier and a
// fresh 32-byte cryptographic random value, so that two sessions on the same
// device never share an initial hash.
func InitialHash(deviceIDHex string) (string, error) {
	randBytes := make([]byte, 32)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("read random seed: %w", err)
	}
	preimage := deviceIDHex + hex.EncodeToString(randBytes)
	return ComputeHash([]byte(preimage)), nil
}

// DeterministicStringify is the single source of truth for hash preimages:
// a canonical textual serialization with sorted keys at every object level,
// recursively. Every producer and every verifier MUST call this same
// function. Grounded on the teacher's recursive sorted-key encoder.
func DeterministicStringify(v any) (string, error) {
	var buf bytes.Buffer
	if err := encodeSorted(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func encodeSorted(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("encode key %q: %w", k, err)
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := encodeSorted(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeSorted(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case nil:
		buf.WriteString("null")
		return nil
	default:
		// Primitives (numbers, strings, bools) and any remaining
		// JSON-marshalable structures fall back to encoding/json, which
		// already produces a deterministic encoding for scalars.
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("encode value: %w", err)
		}
		var probe any
		if jerr := json.Unmarshal(b, &probe); jerr == nil {
			if _, isMap := probe.(map[string]any); isMap {
				return encodeSorted(buf, probe)
			}
			if _, isSlice := probe.([]any); isSlice {
				return encodeSorted(buf, probe)
			}
		}
		buf.Write(b)
		return nil
	}
}

// ValidateSequence reports whether claimed matches expected. When it does
// not, the caller gets back the authoritative expected value and a
// corrected flag; recording paths use this to self-heal mis-numbered
// pending events, while verification paths MUST treat any mismatch as a
// hard failure rather than using the corrected value.
func ValidateSequence(claimed, expected uint64) (accepted uint64, wasCorrected bool) {
	if claimed != expected {
		return expected, true
	}
	return claimed, false
}

// EnsureMonotonicTimestamp advances claimed past lastCommitted when it would
// otherwise violate monotonicity, per spec.md §4.1. Verification never
// calls this; it fails outright on non-monotonicity instead.
func EnsureMonotonicTimestamp(claimed, lastCommitted float64) (value float64, wasAdjusted bool) {
	if claimed <= lastCommitted {
		return lastCommitted + MonotonicTimestampDelta, true
	}
	return claimed, false
}

// ValidatePreviousHash returns the hash recording should stamp onto the
// event: the claimed value if it already matches the authoritative current
// chain hash, otherwise the authoritative value itself (pending events
// captured before a crash may hold a stale previousHash). Verification
// never calls this; divergence there is a hard failure.
func ValidatePreviousHash(claimed, currentChainHash string) string {
	if claimed == currentChainHash {
		return claimed
	}
	return currentChainHash
}
