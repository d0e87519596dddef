// Package datapath reads and mutates generic JSON trees by dot-delimited path.
//
// A tree is whatever encoding/json produces when decoding into an `any`:
// map[string]any for objects, []any for arrays and scalars for leaves.
// Numeric path segments index into arrays, everything else is an object key.
//
// This is part of the Functional Core - apart from the in-place mutators
// (Set, Delete, Move) every function is pure.
//
// # Usage
//
//	data := map[string]any{"layout": map[string]any{"grid": 12}}
//	datapath.Move(data, "layout.grid", "layout.flex")
//	v, ok := datapath.Get(data, "layout.flex") // 12, true
package datapath

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmptyPath is returned when a mutation is attempted with an empty path.
	ErrEmptyPath = errors.New("path is empty")

	// ErrNotContainer is returned when a path walks through a scalar value.
	ErrNotContainer = errors.New("path traverses a non-container value")

	// ErrIndexOutOfRange is returned when an array index is outside the array.
	ErrIndexOutOfRange = errors.New("array index out of range")
)

// =============================================================================
// Path Handling
// =============================================================================

// Split breaks a dot path into its segments. An empty path has no segments.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Join builds a dot path, skipping empty segments.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ".")
}

// =============================================================================
// Reading
// =============================================================================

// Get returns the value at path. The second result is false when any segment
// is missing. A present key holding nil (JSON null) counts as found.
func Get(data any, path string) (any, bool) {
	current := data
	for _, seg := range Split(path) {
		next, ok := child(current, seg)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Has reports whether path resolves to a value.
func Has(data any, path string) bool {
	_, ok := Get(data, path)
	return ok
}

func child(node any, seg string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[seg]
		return v, ok
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(n) {
			return nil, false
		}
		return n[idx], true
	default:
		return nil, false
	}
}

// =============================================================================
// Mutation
// =============================================================================

// Set writes value at path, creating intermediate objects as needed.
// Arrays are never grown; indexing past the end is an error.
func Set(data any, path string, value any) error {
	segs := Split(path)
	if len(segs) == 0 {
		return ErrEmptyPath
	}

	parent := data
	for i, seg := range segs[:len(segs)-1] {
		next, ok := child(parent, seg)
		if !ok || next == nil {
			obj, isObj := parent.(map[string]any)
			if !isObj {
				return fmt.Errorf("%w at %q", containerErr(parent), Join(segs[:i+1]...))
			}
			created := map[string]any{}
			obj[seg] = created
			next = created
		}
		parent = next
	}

	last := segs[len(segs)-1]
	switch p := parent.(type) {
	case map[string]any:
		p[last] = value
		return nil
	case []any:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(p) {
			return fmt.Errorf("%w at %q", ErrIndexOutOfRange, path)
		}
		p[idx] = value
		return nil
	default:
		return fmt.Errorf("%w at %q", ErrNotContainer, path)
	}
}

func containerErr(node any) error {
	if _, ok := node.([]any); ok {
		return ErrIndexOutOfRange
	}
	return ErrNotContainer
}

// Delete removes the object key at path. Array elements are set to nil rather
// than removed so sibling indexes stay stable. Returns true if something was removed.
func Delete(data any, path string) bool {
	segs := Split(path)
	if len(segs) == 0 {
		return false
	}
	parent, ok := Get(data, Join(segs[:len(segs)-1]...))
	if !ok {
		return false
	}

	last := segs[len(segs)-1]
	switch p := parent.(type) {
	case map[string]any:
		if _, exists := p[last]; !exists {
			return false
		}
		delete(p, last)
		return true
	case []any:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(p) {
			return false
		}
		p[idx] = nil
		return true
	default:
		return false
	}
}

// Move relocates the value at from to to. Returns false without error when
// from does not exist.
func Move(data any, from, to string) (bool, error) {
	v, ok := Get(data, from)
	if !ok {
		return false, nil
	}
	if err := Set(data, to, v); err != nil {
		return false, err
	}
	Delete(data, from)
	return true, nil
}

// =============================================================================
// Copying
// =============================================================================

// Clone deep-copies objects and arrays. Scalars are returned as-is.
func Clone(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, val := range n {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, val := range n {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}

// IsTree reports whether v is built only from map[string]any, []any and
// immutable scalar leaves, so that Clone copies it completely.
func IsTree(v any) bool {
	switch n := v.(type) {
	case map[string]any:
		for _, val := range n {
			if !IsTree(val) {
				return false
			}
		}
		return true
	case []any:
		for _, val := range n {
			if !IsTree(val) {
				return false
			}
		}
		return true
	case nil, string, bool, json.Number,
		float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

// Normalize converts any JSON-serializable value (structs included) into a
// generic tree. Values that already are generic trees are deep-copied; anything
// else, including typed maps and slices nested inside a tree, is round-tripped
// through encoding/json. The result never shares memory with v.
func Normalize(v any) (any, error) {
	if IsTree(v) {
		return Clone(v), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return out, nil
}
