// Package modifier implements the update-modifier language: a full
// replacement document, or a set of "$"-prefixed operators ($set, $unset,
// $inc, $push, $addToSet, $pop, $pull, $min, $max) applied in place over a
// copy of the target document.
package modifier

import (
	"fmt"
	"math/big"
	"slices"
	"strings"

	"satchel/adapter/comparer"
	"satchel/adapter/document"
	"satchel/adapter/fieldnavigator"
	"satchel/adapter/matcher"
	"satchel/domain"
)

type opFunc func(doc domain.Document, path string, arg any) error

// Modifier implements [domain.Modifier].
type Modifier struct {
	documentFactory domain.DocumentFactory
	comparer        domain.Comparer
	navigator       domain.FieldNavigator
	matcher         domain.Matcher

	ops map[string]opFunc
}

// Option configures a [Modifier].
type Option func(*Modifier)

// WithDocumentFactory overrides the document factory used for building the
// modified copy and a full-replacement result.
func WithDocumentFactory(f domain.DocumentFactory) Option {
	return func(m *Modifier) { m.documentFactory = f }
}

// WithComparer overrides the comparer, used by $addToSet's dedup check and
// $min/$max.
func WithComparer(c domain.Comparer) Option {
	return func(m *Modifier) { m.comparer = c }
}

// WithFieldNavigator overrides the field navigator.
func WithFieldNavigator(n domain.FieldNavigator) Option {
	return func(m *Modifier) { m.navigator = n }
}

// WithMatcher overrides the matcher, used by $pull to test array elements
// against its argument.
func WithMatcher(mtch domain.Matcher) Option {
	return func(m *Modifier) { m.matcher = mtch }
}

// New returns a new [domain.Modifier].
func New(opts ...Option) domain.Modifier {
	m := &Modifier{
		documentFactory: document.New,
		comparer:        comparer.NewComparer(),
	}
	m.navigator = fieldnavigator.New(m.documentFactory)
	m.matcher = matcher.New(
		matcher.WithDocumentFactory(m.documentFactory),
		matcher.WithComparer(m.comparer),
		matcher.WithFieldNavigator(m.navigator),
	)
	for _, opt := range opts {
		opt(m)
	}

	m.ops = map[string]opFunc{
		"$set":      m.set,
		"$unset":    m.unset,
		"$inc":      m.inc,
		"$push":     m.push,
		"$addToSet": m.addToSet,
		"$pop":      m.pop,
		"$pull":     m.pull,
		"$min":      m.minOp,
		"$max":      m.maxOp,
	}
	return m
}

// Modify implements [domain.Modifier].
func (m *Modifier) Modify(doc domain.Document, update any) (domain.Document, error) {
	updateDoc, err := m.documentFactory(update)
	if err != nil {
		return nil, err
	}

	fields, isReplace, err := m.splitUpdate(doc, updateDoc)
	if err != nil {
		return nil, err
	}
	if isReplace {
		return m.replace(doc, fields)
	}
	return m.applyOps(doc, fields)
}

// splitUpdate separates updateDoc's top-level fields, forbidding a mix of
// "$"-prefixed modifiers and plain field assignments.
func (m *Modifier) splitUpdate(doc, updateDoc domain.Document) (map[string]any, bool, error) {
	fields := make(map[string]any, updateDoc.Len())
	dollar, total := 0, 0
	for k, v := range updateDoc.Iter() {
		total++
		if k == "_id" {
			if id, _ := doc.ID(); !m.comparer.Equal(v, id) {
				return nil, false, domain.ErrIDImmutable
			}
		}
		if strings.HasPrefix(k, "$") {
			dollar++
		}
		if dollar != 0 && dollar != total {
			return nil, false, domain.ErrMixedFieldsAndModifiers
		}
		fields[k] = v
	}
	return fields, dollar == 0, nil
}

func (m *Modifier) replace(doc domain.Document, fields map[string]any) (domain.Document, error) {
	newDoc, err := m.documentFactory(nil)
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		newDoc.Set(k, v)
	}
	if id, ok := doc.ID(); ok {
		newDoc.Set("_id", id)
	}
	return newDoc, nil
}

func (m *Modifier) applyOps(doc domain.Document, fields map[string]any) (domain.Document, error) {
	result, err := m.cloneWithoutDollarKeys(doc)
	if err != nil {
		return nil, err
	}

	for opName, arg := range fields {
		fn, ok := m.ops[opName]
		if !ok {
			return nil, fmt.Errorf("%w: unknown modifier %q", domain.ErrInvalidModifier, opName)
		}
		argDoc, ok := arg.(domain.Document)
		if !ok {
			return nil, fmt.Errorf("%w: %s's argument must be an object", domain.ErrInvalidModifier, opName)
		}
		for path, val := range argDoc.Iter() {
			if err := fn(result, path, val); err != nil {
				return nil, err
			}
		}
	}

	oldID, _ := doc.ID()
	if newID, _ := result.ID(); !m.comparer.Equal(oldID, newID) {
		return nil, domain.ErrIDImmutable
	}
	return result, nil
}

func (m *Modifier) cloneWithoutDollarKeys(doc domain.Document) (domain.Document, error) {
	cloned := doc.Clone()
	keys := slices.Collect(cloned.Keys())
	for _, k := range keys {
		if strings.HasPrefix(k, "$") {
			cloned.Unset(k)
		}
	}
	return cloned, nil
}

func (m *Modifier) set(doc domain.Document, path string, arg any) error {
	return m.navigator.Set(doc, path, arg)
}

func (m *Modifier) unset(doc domain.Document, path string, _ any) error {
	return m.navigator.Unset(doc, path)
}

func (m *Modifier) inc(doc domain.Document, path string, arg any) error {
	incNum, ok := asNumber(arg)
	if !ok {
		return fmt.Errorf("%w: $inc argument must be a number", domain.ErrInvalidModifier)
	}
	cur, ok := m.navigator.Get(doc, path)
	if !ok || domain.IsUndef(cur) || cur == nil {
		cur = 0.0
	}
	curNum, ok := asNumber(cur)
	if !ok {
		return fmt.Errorf("%w: cannot $inc a non-number field", domain.ErrInvalidModifier)
	}
	sum := new(big.Float).Add(curNum, incNum)
	f, _ := sum.Float64()
	return m.navigator.Set(doc, path, f)
}

func (m *Modifier) minOp(doc domain.Document, path string, arg any) error {
	cur, ok := m.navigator.Get(doc, path)
	if !ok || domain.IsUndef(cur) {
		return m.navigator.Set(doc, path, arg)
	}
	if m.comparer.Compare(arg, cur) < 0 {
		return m.navigator.Set(doc, path, arg)
	}
	return nil
}

func (m *Modifier) maxOp(doc domain.Document, path string, arg any) error {
	cur, ok := m.navigator.Get(doc, path)
	if !ok || domain.IsUndef(cur) {
		return m.navigator.Set(doc, path, arg)
	}
	if m.comparer.Compare(arg, cur) > 0 {
		return m.navigator.Set(doc, path, arg)
	}
	return nil
}

func (m *Modifier) push(doc domain.Document, path string, arg any) error {
	array, err := m.currentArray(doc, path, "$push")
	if err != nil {
		return err
	}

	items := []any{arg}
	limit := -1
	hasLimit := false
	if d, ok := arg.(domain.Document); ok && d.Has("$each") {
		each, limitArg, hasLimitArg, err := parseEach(d)
		if err != nil {
			return err
		}
		items = each
		limit, hasLimit = limitArg, hasLimitArg
	}

	array = append(array, items...)
	if hasLimit {
		array = sliceBound(array, limit)
	}
	return m.navigator.Set(doc, path, array)
}

func (m *Modifier) addToSet(doc domain.Document, path string, arg any) error {
	array, err := m.currentArray(doc, path, "$addToSet")
	if err != nil {
		return err
	}

	items := []any{arg}
	if d, ok := arg.(domain.Document); ok && d.Has("$each") {
		each, _, _, err := parseEach(d)
		if err != nil {
			return err
		}
		items = each
	}

	for _, item := range items {
		present := false
		for _, existing := range array {
			if m.comparer.Equal(item, existing) {
				present = true
				break
			}
		}
		if !present {
			array = append(array, item)
		}
	}
	return m.navigator.Set(doc, path, array)
}

func (m *Modifier) pop(doc domain.Document, path string, arg any) error {
	n, ok := asInt(arg)
	if !ok {
		return fmt.Errorf("%w: $pop argument must be an integer", domain.ErrInvalidModifier)
	}
	if n == 0 {
		return nil
	}
	array, err := m.currentArray(doc, path, "$pop")
	if err != nil {
		return err
	}
	if len(array) == 0 {
		return nil
	}
	if n > 0 {
		return m.navigator.Set(doc, path, array[:len(array)-1])
	}
	return m.navigator.Set(doc, path, array[1:])
}

func (m *Modifier) pull(doc domain.Document, path string, arg any) error {
	array, err := m.currentArray(doc, path, "$pull")
	if err != nil {
		return err
	}
	kept := make([]any, 0, len(array))
	for _, item := range array {
		matches, err := m.matcher.Match(item, arg)
		if err != nil {
			return err
		}
		if !matches {
			kept = append(kept, item)
		}
	}
	return m.navigator.Set(doc, path, kept)
}

func (m *Modifier) currentArray(doc domain.Document, path, op string) ([]any, error) {
	v, ok := m.navigator.Get(doc, path)
	if !ok || domain.IsUndef(v) || v == nil {
		return []any{}, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s requires an array field", domain.ErrInvalidModifier, op)
	}
	return arr, nil
}

// parseEach reads a "$each" (and optional "$slice") modifier argument.
func parseEach(d domain.Document) (each []any, limit int, hasLimit bool, err error) {
	rawEach, _ := d.Get("$each")
	each, ok := rawEach.([]any)
	if !ok {
		return nil, 0, false, fmt.Errorf("%w: $each requires an array", domain.ErrInvalidModifier)
	}
	if d.Has("$slice") {
		rawSlice, _ := d.Get("$slice")
		n, ok := asInt(rawSlice)
		if !ok {
			return nil, 0, false, fmt.Errorf("%w: $slice requires an integer", domain.ErrInvalidModifier)
		}
		return each, n, true, nil
	}
	return each, 0, false, nil
}

// sliceBound applies a $slice limit the way $push does: non-negative keeps
// the first n elements, negative keeps the last n.
func sliceBound(array []any, limit int) []any {
	if limit >= 0 {
		return array[:min(limit, len(array))]
	}
	start := max(len(array)+limit, 0)
	return array[start:]
}

func asInt(v any) (int, bool) {
	n, ok := asNumber(v)
	if !ok || !n.IsInt() {
		return 0, false
	}
	i, _ := n.Int64()
	return int(i), true
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
