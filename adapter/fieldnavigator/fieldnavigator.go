// Package fieldnavigator resolves dot-paths against documents, including
// the array fan-out rule: a non-numeric path segment applied to an array
// projects over every element of that array instead of indexing into it.
package fieldnavigator

import (
	"strconv"
	"strings"

	"satchel/domain"
)

// FieldNavigator implements [domain.FieldNavigator].
type FieldNavigator struct {
	docFactory domain.DocumentFactory
}

// New returns a new [domain.FieldNavigator]. docFactory is used to create
// intermediate documents when [FieldNavigator.Set] has to build out a path.
func New(docFactory domain.DocumentFactory) domain.FieldNavigator {
	return &FieldNavigator{docFactory: docFactory}
}

// SplitPath implements [domain.FieldNavigator].
func (fn *FieldNavigator) SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Get implements [domain.FieldNavigator]. When a non-numeric segment is
// applied to an array, the result fans out: Get returns a []any of every
// element's resolved sub-value, with missing branches yielding
// [domain.Undef]. An element that is itself an array is not fanned out
// again; it also yields [domain.Undef].
func (fn *FieldNavigator) Get(obj any, path string) (any, bool) {
	parts := fn.SplitPath(path)
	if len(parts) == 0 {
		return domain.Undef, false
	}
	v, ok, _ := fn.resolve(obj, parts)
	return v, ok
}

// resolve returns the resolved value, whether it was found, and whether the
// result came from fanning out across an array (used internally to decide
// whether a missing sub-branch should collapse the whole lookup or just
// contribute domain.Undef to the fan-out).
func (fn *FieldNavigator) resolve(v any, parts []string) (any, bool, bool) {
	if len(parts) == 0 {
		return v, true, false
	}
	part, rest := parts[0], parts[1:]

	switch t := v.(type) {
	case domain.Document:
		val, ok := t.Get(part)
		if !ok {
			return domain.Undef, false, false
		}
		return fn.resolve(val, rest)
	case []any:
		if i, err := strconv.Atoi(part); err == nil {
			if i < 0 || i >= len(t) {
				return domain.Undef, false, false
			}
			return fn.resolve(t[i], rest)
		}
		out := make([]any, len(t))
		anyOK := false
		for i, elem := range t {
			if _, nested := elem.([]any); nested {
				out[i] = domain.Undef
				continue
			}
			sv, ok, _ := fn.resolve(elem, parts)
			if ok {
				anyOK = true
			} else {
				sv = domain.Undef
			}
			out[i] = sv
		}
		return out, anyOK, true
	default:
		return domain.Undef, false, false
	}
}

// Set implements [domain.FieldNavigator]. Intermediate documents are
// created as needed; array segments must be numeric (no fan-out on write).
func (fn *FieldNavigator) Set(doc domain.Document, path string, value any) error {
	parts := fn.SplitPath(path)
	if len(parts) == 0 {
		return domain.ErrNoFieldName
	}
	return fn.setAt(doc, parts, value)
}

func (fn *FieldNavigator) setAt(container any, parts []string, value any) error {
	part, rest := parts[0], parts[1:]

	switch t := container.(type) {
	case domain.Document:
		if len(rest) == 0 {
			t.Set(part, value)
			return nil
		}
		next, ok := t.Get(part)
		if !ok || !isContainer(next) {
			newDoc, err := fn.docFactory(nil)
			if err != nil {
				return err
			}
			t.Set(part, newDoc)
			next = newDoc
		}
		return fn.setAt(next, rest, value)
	case []any:
		i, err := strconv.Atoi(part)
		if err != nil || i < 0 {
			return domain.ErrInvalidKey
		}
		// growth is the caller's responsibility (array length is fixed once
		// created through a document); indexing out of range is invalid.
		if i >= len(t) {
			return domain.ErrInvalidKey
		}
		if len(rest) == 0 {
			t[i] = value
			return nil
		}
		next := t[i]
		if !isContainer(next) {
			newDoc, err := fn.docFactory(nil)
			if err != nil {
				return err
			}
			t[i] = newDoc
			next = newDoc
		}
		return fn.setAt(next, rest, value)
	default:
		return domain.ErrInvalidKey
	}
}

func isContainer(v any) bool {
	switch v.(type) {
	case domain.Document, []any:
		return true
	default:
		return false
	}
}

// Unset implements [domain.FieldNavigator].
func (fn *FieldNavigator) Unset(doc domain.Document, path string) error {
	parts := fn.SplitPath(path)
	if len(parts) == 0 {
		return domain.ErrNoFieldName
	}
	return fn.unsetAt(doc, parts)
}

func (fn *FieldNavigator) unsetAt(container any, parts []string) error {
	part, rest := parts[0], parts[1:]

	switch t := container.(type) {
	case domain.Document:
		if len(rest) == 0 {
			t.Unset(part)
			return nil
		}
		next, ok := t.Get(part)
		if !ok {
			return nil
		}
		return fn.unsetAt(next, rest)
	case []any:
		i, err := strconv.Atoi(part)
		if err != nil || i < 0 || i >= len(t) {
			return nil
		}
		if len(rest) == 0 {
			t[i] = nil
			return nil
		}
		return fn.unsetAt(t[i], rest)
	default:
		return nil
	}
}
