// Package document implements [domain.Document] as a map and provides the
// single constructor every other adapter uses to turn user-supplied values
// (structs, maps, pointers to either) into documents.
package document

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"reflect"
	"strings"
	"time"

	goreflect "github.com/goccy/go-reflect"

	"satchel/domain"
)

// TagName is the struct tag consulted when building a document from a Go
// struct.
const TagName = "gedb"

var timeType = goreflect.TypeOf(*new(time.Time))

// M implements [domain.Document] as a flat map. It carries no dot-path
// semantics of its own; that is the [domain.FieldNavigator]'s job.
type M map[string]any

// New constructs a [domain.Document] from in. Accepted shapes: nil (empty
// document), an existing [domain.Document], map[string]T for any T, a
// struct, or a pointer to either.
func New(in any) (domain.Document, error) {
	if in == nil {
		return M{}, nil
	}
	if doc, ok := in.(domain.Document); ok {
		return doc, nil
	}
	if doc, handled, err := parseConcreteMap(in); handled {
		return doc, err
	}

	r := goreflect.ValueNoEscapeOf(in)
	k := r.Kind()
	for k == goreflect.Interface || k == reflect.Pointer {
		if r.IsNil() {
			return M{}, nil
		}
		r = r.Elem()
		k = r.Kind()
	}
	if k != goreflect.Struct && k != goreflect.Map {
		return nil, fmt.Errorf("%w: expected map or struct, got %s", domain.ErrInvalidOptions, r.Type().String())
	}
	v, err := parseReflect(r)
	if err != nil {
		return nil, err
	}
	doc, _ := v.(domain.Document)
	if doc == nil {
		doc = M{}
	}
	return doc, nil
}

// parseConcreteMap fast-paths the common case of a concretely typed
// map[string]T, skipping reflection entirely. Only map[string]any can
// possibly nest further maps/structs/documents, so it is the only case that
// needs to recurse.
func parseConcreteMap(v any) (domain.Document, bool, error) {
	switch t := v.(type) {
	case map[string]any:
		doc, err := parseAnyMap(t)
		return doc, true, err
	case map[string]string:
		return fromMap(t), true, nil
	case map[string]bool:
		return fromMap(t), true, nil
	case map[string]int:
		return fromMap(t), true, nil
	case map[string]int8:
		return fromMap(t), true, nil
	case map[string]int16:
		return fromMap(t), true, nil
	case map[string]int32:
		return fromMap(t), true, nil
	case map[string]int64:
		return fromMap(t), true, nil
	case map[string]uint:
		return fromMap(t), true, nil
	case map[string]uint8:
		return fromMap(t), true, nil
	case map[string]uint16:
		return fromMap(t), true, nil
	case map[string]uint32:
		return fromMap(t), true, nil
	case map[string]uint64:
		return fromMap(t), true, nil
	case map[string]float32:
		return fromMap(t), true, nil
	case map[string]float64:
		return fromMap(t), true, nil
	case map[string]time.Time:
		return fromMap(t), true, nil
	case map[string]time.Duration:
		return fromMap(t), true, nil
	default:
		return nil, false, nil
	}
}

// parseAnyMap recursively normalizes a map[string]any: nested maps become
// M, nested structs/slices are run back through the reflective path, and
// everything else is kept as-is.
func parseAnyMap(v map[string]any) (domain.Document, error) {
	res := make(M, len(v))
	for k, val := range v {
		nv, err := normalizeAny(val)
		if err != nil {
			return nil, err
		}
		res[k] = nv
	}
	return res, nil
}

func normalizeAny(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return parseAnyMap(t)
	case domain.Document:
		return t, nil
	}
	r := goreflect.ValueNoEscapeOf(v)
	switch r.Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		if r.Kind() == reflect.Struct && r.Type() == timeType {
			return v, nil
		}
		return parseReflect(r)
	default:
		return v, nil
	}
}

func fromMap[T any](v map[string]T) domain.Document {
	res := make(M, len(v))
	for k, val := range v {
		res[k] = val
	}
	return res
}

func parseReflect(r goreflect.Value) (any, error) {
	for r.Kind() == reflect.Pointer || r.Kind() == goreflect.Interface {
		if r.IsNil() {
			return nil, nil
		}
		r = r.Elem()
	}
	switch r.Kind() {
	case goreflect.Invalid:
		return nil, nil
	case goreflect.Slice:
		if r.IsNil() {
			return nil, nil
		}
		fallthrough
	case goreflect.Array:
		return parseSlice(r)
	case goreflect.Struct:
		if r.Type() == timeType {
			return r.Interface(), nil
		}
		return parseStruct(r)
	case goreflect.Map:
		if r.IsNil() {
			return nil, nil
		}
		return parseMap(r)
	default:
		if isNullableKind(r.Kind()) && r.IsNil() {
			return nil, nil
		}
		return r.Interface(), nil
	}
}

func parseSlice(r goreflect.Value) (any, error) {
	n := r.Len()
	res := make([]any, n)
	for i := range n {
		v, err := parseReflect(r.Index(i))
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

func parseMap(r goreflect.Value) (domain.Document, error) {
	res := make(M, r.Len())
	for _, k := range r.MapKeys() {
		if k.Kind() != goreflect.String {
			return nil, fmt.Errorf("%w: map keys must be strings, got %s", domain.ErrInvalidOptions, k.Kind())
		}
		v, err := parseReflect(r.MapIndex(k))
		if err != nil {
			return nil, err
		}
		res[k.String()] = v
	}
	return res, nil
}

func parseStruct(r goreflect.Value) (domain.Document, error) {
	typ := r.Type()
	n := typ.NumField()
	res := make(M, n)
	for i := range n {
		sf := typ.Field(i)
		if sf.PkgPath != "" {
			continue // unexported
		}
		name, skip := fieldName(sf)
		if skip {
			continue
		}
		fv := r.Field(i)
		if omitEmpty(sf) && isNullableKind(fv.Kind()) && fv.IsNil() {
			continue
		}
		if omitZero(sf) && fv.IsZero() {
			continue
		}
		v, err := parseReflect(fv)
		if err != nil {
			return nil, err
		}
		res[name] = v
	}
	return res, nil
}

func fieldName(sf goreflect.StructField) (name string, skip bool) {
	name = sf.Name
	tag, ok := sf.Tag.Lookup(TagName)
	if !ok {
		return name, false
	}
	if tag == "-" {
		return "", true
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	return name, false
}

func tagOptions(sf goreflect.StructField) []string {
	tag, ok := sf.Tag.Lookup(TagName)
	if !ok {
		return nil
	}
	parts := strings.Split(tag, ",")
	if len(parts) <= 1 {
		return nil
	}
	return parts[1:]
}

func omitEmpty(sf goreflect.StructField) bool {
	for _, o := range tagOptions(sf) {
		if o == "omitempty" {
			return true
		}
	}
	return false
}

func omitZero(sf goreflect.StructField) bool {
	for _, o := range tagOptions(sf) {
		if o == "omitzero" {
			return true
		}
	}
	return false
}

func isNullableKind(k goreflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}

// ID implements [domain.Document].
func (d M) ID() (string, bool) {
	v, ok := d["_id"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Get implements [domain.Document].
func (d M) Get(key string) (any, bool) {
	v, ok := d[key]
	return v, ok
}

// Set implements [domain.Document].
func (d M) Set(key string, value any) { d[key] = value }

// Unset implements [domain.Document].
func (d M) Unset(key string) { delete(d, key) }

// Iter implements [domain.Document].
func (d M) Iter() iter.Seq2[string, any] { return maps.All(d) }

// Keys implements [domain.Document].
func (d M) Keys() iter.Seq[string] { return maps.Keys(d) }

// Values implements [domain.Document].
func (d M) Values() iter.Seq[any] { return maps.Values(d) }

// Has implements [domain.Document].
func (d M) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Len implements [domain.Document].
func (d M) Len() int { return len(d) }

// Clone implements [domain.Document] with a deep copy: nested documents and
// slices are recursively copied, scalars are shared.
func (d M) Clone() domain.Document {
	res := make(M, len(d))
	for k, v := range d {
		res[k] = cloneValue(v)
	}
	return res
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case domain.Document:
		return t.Clone()
	case []any:
		res := make([]any, len(t))
		for i, e := range t {
			res[i] = cloneValue(e)
		}
		return res
	default:
		return v
	}
}

// MarshalJSON implements [encoding/json.Marshaler] for the common case of
// dumping a document without going through the Serializer ($$date tagging
// is the Serializer's job, not this type's).
func (d M) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(d))
}

// UnmarshalJSON implements [encoding/json.Unmarshaler] using the module's
// own single-pass JSON reader instead of stdlib reflection-based decoding.
func (d *M) UnmarshalJSON(input []byte) error {
	p := &parser{data: input, n: len(input)}
	v, err := p.parse()
	if err != nil {
		return err
	}
	obj, ok := v.(M)
	if !ok {
		return fmt.Errorf("expected object at top level, got %T", v)
	}
	*d = obj
	return nil
}
