// Package matcher evaluates the Mongo-style predicate language against
// documents: per-field implicit array membership, $lt/$gt-family range
// operators, $in/$nin, $regex, $exists, $size, $elemMatch, and the logical
// combinators $and/$or/$not/$where.
package matcher

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"satchel/adapter/comparer"
	"satchel/adapter/document"
	"satchel/adapter/fieldnavigator"
	"satchel/domain"
)

type compareOp func(doc domain.Document, path string, arg any) (bool, error)

type valueOp func(candidate, arg any) (bool, error)

// Matcher implements [domain.Matcher].
type Matcher struct {
	documentFactory domain.DocumentFactory
	comparer        domain.Comparer
	navigator       domain.FieldNavigator

	logicOps   map[string]func(domain.Document, any) (bool, error)
	compareOps map[string]compareOp
}

// Option configures a [Matcher].
type Option func(*Matcher)

// WithDocumentFactory overrides the document factory used to wrap bare
// values when matching a non-document against a query.
func WithDocumentFactory(f domain.DocumentFactory) Option {
	return func(m *Matcher) { m.documentFactory = f }
}

// WithComparer overrides the comparer.
func WithComparer(c domain.Comparer) Option {
	return func(m *Matcher) { m.comparer = c }
}

// WithFieldNavigator overrides the field navigator.
func WithFieldNavigator(n domain.FieldNavigator) Option {
	return func(m *Matcher) { m.navigator = n }
}

// New returns a new [domain.Matcher].
func New(opts ...Option) domain.Matcher {
	m := &Matcher{
		documentFactory: document.New,
		comparer:        comparer.NewComparer(),
	}
	m.navigator = fieldnavigator.New(m.documentFactory)
	for _, opt := range opts {
		opt(m)
	}

	m.logicOps = map[string]func(domain.Document, any) (bool, error){
		"$and":   m.and,
		"$or":    m.or,
		"$not":   m.not,
		"$where": m.where,
	}
	m.compareOps = map[string]compareOp{
		"$lt":        m.op(func(c int) bool { return c < 0 }),
		"$lte":       m.op(func(c int) bool { return c <= 0 }),
		"$gt":        m.op(func(c int) bool { return c > 0 }),
		"$gte":       m.op(func(c int) bool { return c >= 0 }),
		"$ne":        m.ne,
		"$in":        m.in,
		"$nin":       m.nin,
		"$regex":     m.regex,
		"$exists":    m.exists,
		"$size":      m.size,
		"$elemMatch": m.elemMatch,
	}
	return m
}

// Match implements [domain.Matcher].
func (m *Matcher) Match(val any, query any) (bool, error) {
	return m.matchValue(val, query)
}

// matchValue matches query against val, which may be a [domain.Document]
// (the common case) or a bare scalar (used by $elemMatch against an array
// of scalars).
func (m *Matcher) matchValue(val any, query any) (bool, error) {
	if query == nil {
		return true, nil
	}

	doc, ok := val.(domain.Document)
	if !ok {
		return m.nonDocMatch(val, query)
	}

	qdoc, ok := query.(domain.Document)
	if !ok {
		return false, nil
	}
	return m.matchDocs(doc, qdoc)
}

// nonDocMatch wraps a bare scalar (and its query, which may itself be a
// scalar or an operator document) under a synthetic field name, so the
// normal field-addressed operator machinery still applies to it.
func (m *Matcher) nonDocMatch(val, query any) (bool, error) {
	valDoc, err := m.documentFactory(nil)
	if err != nil {
		return false, err
	}
	qryDoc, err := m.documentFactory(nil)
	if err != nil {
		return false, err
	}
	valDoc.Set("scalar", val)
	qryDoc.Set("scalar", query)
	return m.matchDocs(valDoc, qryDoc)
}

func (m *Matcher) matchDocs(doc, qdoc domain.Document) (bool, error) {
	fields, hasOps, err := m.splitQuery(qdoc)
	if err != nil {
		return false, err
	}

	matchField := m.matchPlainField
	if hasOps {
		matchField = m.matchLogicalField
	}

	for field, value := range fields {
		ok, err := matchField(doc, field, value)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// splitQuery separates a query document's top-level fields, forbidding a
// mix of "$"-prefixed logical operators and plain field predicates.
func (m *Matcher) splitQuery(qry domain.Document) (map[string]any, bool, error) {
	out := make(map[string]any, qry.Len())
	dollar := 0
	total := 0
	for field, value := range qry.Iter() {
		total++
		if strings.HasPrefix(field, "$") {
			dollar++
		}
		if dollar > 0 && dollar != total {
			return nil, false, fmt.Errorf("%w: cannot mix logical operators and plain fields", domain.ErrInvalidQuery)
		}
		out[field] = value
	}
	return out, dollar > 0, nil
}

func (m *Matcher) matchLogicalField(doc domain.Document, field string, value any) (bool, error) {
	fn, ok := m.logicOps[field]
	if !ok {
		return false, fmt.Errorf("%w: unknown logical operator %q", domain.ErrInvalidQuery, field)
	}
	return fn(doc, value)
}

func (m *Matcher) matchPlainField(doc domain.Document, field string, value any) (bool, error) {
	subdoc, ok := value.(domain.Document)
	if !ok {
		return m.eq(doc, field, value)
	}

	ops, hasOps, err := m.splitQuery(subdoc)
	if err != nil {
		return false, err
	}
	if !hasOps {
		return m.eq(doc, field, value)
	}

	for op, arg := range ops {
		fn, ok := m.compareOps[op]
		if !ok {
			return false, fmt.Errorf("%w: unknown comparison operator %q", domain.ErrInvalidQuery, op)
		}
		ok, err := fn(doc, field, arg)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (m *Matcher) and(doc domain.Document, value any) (bool, error) {
	arr, ok := value.([]any)
	if !ok {
		return false, fmt.Errorf("%w: $and requires an array", domain.ErrInvalidQuery)
	}
	for _, clause := range arr {
		ok, err := m.Match(doc, clause)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (m *Matcher) or(doc domain.Document, value any) (bool, error) {
	arr, ok := value.([]any)
	if !ok {
		return false, fmt.Errorf("%w: $or requires an array", domain.ErrInvalidQuery)
	}
	for _, clause := range arr {
		ok, err := m.Match(doc, clause)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (m *Matcher) not(doc domain.Document, value any) (bool, error) {
	ok, err := m.Match(doc, value)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// where runs a caller-supplied predicate function, recovering a panic from
// inside it into a plain error so a bad $where clause can't take the whole
// process down with it.
func (m *Matcher) where(doc domain.Document, value any) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("%w: $where predicate panicked: %v", domain.ErrInvalidQuery, r)
		}
	}()
	switch fn := value.(type) {
	case func(domain.Document) bool:
		return fn(doc), nil
	case func(domain.Document) (bool, error):
		return fn(doc)
	default:
		return false, fmt.Errorf("%w: $where requires a predicate function", domain.ErrInvalidQuery)
	}
}

// eq applies implicit array membership: a plain field predicate matches
// either the field's whole value or, if that value is an array, any single
// element of it.
func (m *Matcher) eq(doc domain.Document, path string, value any) (bool, error) {
	v, ok := m.navigator.Get(doc, path)
	if !ok {
		v = domain.Undef
	}
	return m.matchCandidates(v, value, func(candidate, arg any) (bool, error) {
		if rgx, ok := arg.(*regexp.Regexp); ok {
			s, ok := candidate.(string)
			return ok && rgx.MatchString(s), nil
		}
		return m.comparer.Equal(candidate, arg), nil
	})
}

// matchCandidates implements the "match the whole value, or match any one
// element if it is an array" rule common to every comparison operator.
func (m *Matcher) matchCandidates(v, arg any, fn valueOp) (bool, error) {
	if ok, err := fn(v, arg); err != nil || ok {
		return ok, err
	}
	arr, ok := v.([]any)
	if !ok {
		return false, nil
	}
	for _, elem := range arr {
		ok, err := m.matchCandidates(elem, arg, fn)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (m *Matcher) op(test func(cmp int) bool) compareOp {
	return func(doc domain.Document, path string, arg any) (bool, error) {
		v, ok := m.navigator.Get(doc, path)
		if !ok {
			v = domain.Undef
		}
		return m.matchCandidates(v, arg, func(candidate, arg any) (bool, error) {
			if !comparable(candidate, arg) {
				return false, nil
			}
			return test(m.comparer.Compare(candidate, arg)), nil
		})
	}
}

// ne implements $ne: the negation of "thingsEqual", except that a field
// which resolves to undefined always satisfies $ne (undefined is never
// equal to anything, so its negation holds unconditionally).
func (m *Matcher) ne(doc domain.Document, path string, arg any) (bool, error) {
	v, ok := m.navigator.Get(doc, path)
	if !ok {
		v = domain.Undef
	}
	return m.matchCandidates(v, arg, func(candidate, arg any) (bool, error) {
		if domain.IsUndef(candidate) {
			return true, nil
		}
		return !m.comparer.Equal(candidate, arg), nil
	})
}

func (m *Matcher) in(doc domain.Document, path string, arg any) (bool, error) {
	arr, ok := arg.([]any)
	if !ok {
		return false, fmt.Errorf("%w: $in requires an array", domain.ErrInvalidQuery)
	}
	v, ok := m.navigator.Get(doc, path)
	if !ok {
		v = domain.Undef
	}
	return m.matchCandidates(v, arr, func(candidate, arg any) (bool, error) {
		for _, item := range arg.([]any) {
			if comparable(candidate, item) && m.comparer.Compare(candidate, item) == 0 {
				return true, nil
			}
		}
		return false, nil
	})
}

func (m *Matcher) nin(doc domain.Document, path string, arg any) (bool, error) {
	ok, err := m.in(doc, path, arg)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (m *Matcher) regex(doc domain.Document, path string, arg any) (bool, error) {
	rgx, ok := arg.(*regexp.Regexp)
	if !ok {
		return false, fmt.Errorf("%w: $regex requires a regular expression", domain.ErrInvalidQuery)
	}
	v, ok := m.navigator.Get(doc, path)
	if !ok {
		v = domain.Undef
	}
	return m.matchCandidates(v, rgx, func(candidate, arg any) (bool, error) {
		s, ok := candidate.(string)
		if !ok {
			return false, nil
		}
		return arg.(*regexp.Regexp).MatchString(s), nil
	})
}

func (m *Matcher) exists(doc domain.Document, path string, arg any) (bool, error) {
	want := isTruthy(arg)
	_, ok := m.navigator.Get(doc, path)
	return ok == want, nil
}

func (m *Matcher) size(doc domain.Document, path string, arg any) (bool, error) {
	n, ok := asInt(arg)
	if !ok {
		return false, fmt.Errorf("%w: $size requires an integer", domain.ErrInvalidQuery)
	}
	v, ok := m.navigator.Get(doc, path)
	if !ok {
		return false, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return false, nil
	}
	return len(arr) == n, nil
}

func (m *Matcher) elemMatch(doc domain.Document, path string, arg any) (bool, error) {
	v, ok := m.navigator.Get(doc, path)
	if !ok {
		return false, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return false, nil
	}
	for _, elem := range arr {
		ok, err := m.matchValue(elem, arg)
		if ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}

// comparable reports whether a and b are both order-comparable under the
// range operators ($lt/$gt/...): both numbers, both strings, or both times.
// Booleans, arrays and documents are never range-comparable to anything.
func comparable(a, b any) bool {
	if domain.IsUndef(a) || domain.IsUndef(b) {
		return false
	}
	if _, ok := asNumber(a); ok {
		_, ok := asNumber(b)
		return ok
	}
	if _, ok := a.(string); ok {
		_, ok := b.(string)
		return ok
	}
	if _, ok := a.(time.Time); ok {
		_, ok := b.(time.Time)
		return ok
	}
	return false
}

func isTruthy(v any) bool {
	if v == nil || domain.IsUndef(v) {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	if n, ok := asNumber(v); ok {
		return n.Sign() != 0
	}
	return true
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
