// Package vv implements the version vector value type used to detect causal
// ordering and concurrent updates between file replicas (data-model.md §3).
package vv

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedVector is returned when a version vector cannot be decoded
// because one of its counters is not a non-negative integer.
var ErrMalformedVector = errors.New("vv: malformed version vector")

// VV is a mapping from client identifier to a non-negative counter. The zero
// value is an empty vector (dominates nothing; every non-empty vector
// dominates it).
// Missing keys are treated as zero by every comparison in this package.
type VV map[string]int64

// New returns an empty version vector.
func New() VV {
	return make(VV)
}

// Clone returns a deep copy of v.
func (v VV) Clone() VV {
	out := make(VV, len(v))
	for k, val := range v {
		out[k] = val
	}

	return out
}

// Increment returns a copy of v with clientID's counter raised by one,
// creating the entry if absent. v itself is not mutated.
func (v VV) Increment(clientID string) VV {
	out := v.Clone()
	out[clientID]++

	return out
}

// Get returns the counter for clientID, or 0 if absent.
func (v VV) Get(clientID string) int64 {
	return v[clientID]
}

// Dominates reports whether v dominates other: every key of other is present
// in v with a value at least as large, and at least one key is strictly
// larger. Missing keys count as zero on both sides.
func (v VV) Dominates(other VV) bool {
	strictlyGreater := false

	for _, k := range unionKeys(v, other) {
		a, b := v[k], other[k]

		if a < b {
			return false
		}

		if a > b {
			strictlyGreater = true
		}
	}

	return strictlyGreater
}

// Concurrent reports whether v and other are concurrent: neither dominates
// the other, and they are not equal.
func (v VV) Concurrent(other VV) bool {
	if v.Equal(other) {
		return false
	}

	return !v.Dominates(other) && !other.Dominates(v)
}

// Equal reports whether v and other have the same effective keys and values,
// ignoring keys whose value is zero on both sides (a zero counter and an
// absent key are equivalent).
func (v VV) Equal(other VV) bool {
	for _, k := range unionKeys(v, other) {
		if v[k] != other[k] {
			return false
		}
	}

	return true
}

// Merge returns the pointwise maximum of v and other, used when the
// reconciliation service accepts a concurrent update and must fold both
// sides into the new authoritative vector (sync-algorithm §4.7).
func Merge(a, b VV) VV {
	out := make(VV, len(a)+len(b))

	for _, k := range unionKeys(a, b) {
		if a[k] >= b[k] {
			out[k] = a[k]
		} else {
			out[k] = b[k]
		}
	}

	return out
}

// IsEmpty reports whether v has no non-zero entries.
func (v VV) IsEmpty() bool {
	for _, val := range v {
		if val != 0 {
			return false
		}
	}

	return true
}

func unionKeys(a, b VV) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))

	for k := range a {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	for k := range b {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	return keys
}

// MarshalJSON renders v as a canonical JSON object with keys sorted
// lexicographically, so two equal vectors always serialize identically.
func (v VV) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("vv: marshal key %q: %w", k, err)
		}

		buf.Write(kb)
		buf.WriteByte(':')
		buf.WriteString(fmt.Sprintf("%d", v[k]))
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of string-to-integer pairs into v.
// Non-integer values (floats with a fractional part, strings, bools, nested
// objects) fail with ErrMalformedVector. Unknown keys are simply counters
// for clients this process has not seen before and are preserved verbatim —
// there is no fixed schema to validate them against.
func (v *VV) UnmarshalJSON(data []byte) error {
	var generic map[string]any

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedVector, err)
	}

	raw := make(map[string]json.Number, len(generic))

	for k, val := range generic {
		num, ok := val.(json.Number)
		if !ok {
			return fmt.Errorf("%w: key %q has non-numeric value %v", ErrMalformedVector, k, val)
		}

		raw[k] = num
	}

	out := make(VV, len(raw))

	for k, num := range raw {
		i, err := num.Int64()
		if err != nil {
			return fmt.Errorf("%w: key %q: %w", ErrMalformedVector, k, err)
		}

		if i < 0 {
			return fmt.Errorf("%w: key %q is negative", ErrMalformedVector, k)
		}

		out[k] = i
	}

	*v = out

	return nil
}
