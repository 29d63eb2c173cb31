// Package comparer implements the total order and equality rules over
// heterogeneous document values: undefined < null < number < string <
// boolean < date < array < object.
package comparer

import (
	"cmp"
	"math/big"
	"slices"
	"time"

	"satchel/domain"
)

// Comparer implements [domain.Comparer].
type Comparer struct{}

// NewComparer returns a new [domain.Comparer].
func NewComparer() domain.Comparer {
	return &Comparer{}
}

// Compare implements [domain.Comparer]. Values of unrecognized types compare
// equal to each other and sort last, rather than panicking or erroring: the
// type system above this adapter (document, JSON) never produces them.
func (c *Comparer) Compare(a, b any) int {
	if v, ok := c.checkUndefined(a, b); ok {
		return v
	}
	if v, ok := c.checkNil(a, b); ok {
		return v
	}
	if v, ok := c.checkNumbers(a, b); ok {
		return v
	}
	if v, ok := c.checkStrings(a, b); ok {
		return v
	}
	if v, ok := c.checkBooleans(a, b); ok {
		return v
	}
	if v, ok := c.checkTime(a, b); ok {
		return v
	}
	if v, ok := c.checkArrays(a, b); ok {
		return v
	}
	if v, ok := c.checkDocs(a, b); ok {
		return v
	}
	return 0
}

// Equal implements [domain.Comparer]'s "thingsEqual": stricter than
// Compare == 0. Undefined is never equal to anything (including itself),
// and an array is never equal to a non-array.
func (c *Comparer) Equal(a, b any) bool {
	if domain.IsUndef(a) || domain.IsUndef(b) {
		return false
	}
	_, aArr := a.([]any)
	_, bArr := b.([]any)
	if aArr != bArr {
		return false
	}
	return c.Compare(a, b) == 0
}

func (c *Comparer) checkUndefined(a, b any) (int, bool) {
	aU, bU := domain.IsUndef(a), domain.IsUndef(b)
	if aU && bU {
		return 0, true
	}
	if aU {
		return -1, true
	}
	if bU {
		return 1, true
	}
	return 0, false
}

func (c *Comparer) checkNil(a, b any) (int, bool) {
	if a == nil {
		if b == nil {
			return 0, true
		}
		return -1, true
	}
	if b == nil {
		return 1, true
	}
	return 0, false
}

func (c *Comparer) checkNumbers(a, b any) (int, bool) {
	if na, ok := asNumber(a); ok {
		if nb, ok := asNumber(b); ok {
			return na.Cmp(nb), true
		}
		return -1, true
	}
	if _, ok := asNumber(b); ok {
		return 1, true
	}
	return 0, false
}

func (c *Comparer) checkStrings(a, b any) (int, bool) {
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return cmp.Compare(sa, sb), true
		}
		return -1, true
	}
	if _, ok := b.(string); ok {
		return 1, true
	}
	return 0, false
}

func (c *Comparer) checkBooleans(a, b any) (int, bool) {
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return compareBool(ba, bb), true
		}
		return -1, true
	}
	if _, ok := b.(bool); ok {
		return 1, true
	}
	return 0, false
}

func (c *Comparer) checkTime(a, b any) (int, bool) {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb), true
		}
		return -1, true
	}
	if _, ok := b.(time.Time); ok {
		return 1, true
	}
	return 0, false
}

func (c *Comparer) checkArrays(a, b any) (int, bool) {
	if aa, ok := a.([]any); ok {
		if bb, ok := b.([]any); ok {
			return c.compareArray(aa, bb), true
		}
		return -1, true
	}
	if _, ok := b.([]any); ok {
		return 1, true
	}
	return 0, false
}

func (c *Comparer) checkDocs(a, b any) (int, bool) {
	if da, ok := a.(domain.Document); ok {
		if db, ok := b.(domain.Document); ok {
			return c.compareDoc(da, db), true
		}
		return -1, true
	}
	if _, ok := b.(domain.Document); ok {
		return 1, true
	}
	return 0, false
}

func (c *Comparer) compareArray(a, b []any) int {
	for i := range min(len(a), len(b)) {
		if v := c.Compare(a[i], b[i]); v != 0 {
			return v
		}
	}
	return cmp.Compare(len(a), len(b))
}

func compareBool(a, b bool) int {
	if a == b {
		return 0
	}
	if a {
		return 1
	}
	return -1
}

func (c *Comparer) compareDoc(a, b domain.Document) int {
	aKeys := slices.Collect(a.Keys())
	bKeys := slices.Collect(b.Keys())
	slices.Sort(aKeys)
	slices.Sort(bKeys)

	for i := range min(len(aKeys), len(bKeys)) {
		av, _ := a.Get(aKeys[i])
		bv, _ := b.Get(bKeys[i])
		if v := c.Compare(av, bv); v != 0 {
			return v
		}
	}

	if v := cmp.Compare(a.Len(), b.Len()); v != 0 {
		return v
	}

	aKeysAny := make([]any, len(aKeys))
	for i, k := range aKeys {
		aKeysAny[i] = k
	}
	bKeysAny := make([]any, len(bKeys))
	for i, k := range bKeys {
		bKeysAny[i] = k
	}
	return c.compareArray(aKeysAny, bKeysAny)
}

func asNumber(v any) (*big.Float, bool) {
	r := new(big.Float)
	switch n := v.(type) {
	case int:
		r.SetInt64(int64(n))
	case int8:
		r.SetInt64(int64(n))
	case int16:
		r.SetInt64(int64(n))
	case int32:
		r.SetInt64(int64(n))
	case int64:
		r.SetInt64(n)
	case uint:
		r.SetUint64(uint64(n))
	case uint8:
		r.SetUint64(uint64(n))
	case uint16:
		r.SetUint64(uint64(n))
	case uint32:
		r.SetUint64(uint64(n))
	case uint64:
		r.SetUint64(n)
	case float32:
		r.SetFloat64(float64(n))
	case float64:
		r.SetFloat64(n)
	default:
		return nil, false
	}
	return r, true
}
