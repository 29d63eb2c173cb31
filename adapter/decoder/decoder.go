// Package decoder implements [domain.Decoder]: it flattens a matched
// [domain.Document] tree into plain maps and slices, then hands the result
// to mapstructure so callers can decode into an arbitrary struct or map.
package decoder

import (
	"github.com/mitchellh/mapstructure"

	"satchel/domain"
)

// TagName is the struct tag mapstructure consults, matching the tag the
// document factory uses to build documents from structs.
const TagName = "gedb"

// Decoder implements [domain.Decoder].
type Decoder struct{}

// New returns a new [domain.Decoder].
func New() domain.Decoder {
	return &Decoder{}
}

// Decode implements [domain.Decoder]. If target is a *domain.Document, doc
// is assigned directly; any other target, including a pointer to a concrete
// type implementing [domain.Document], gets doc flattened to
// map[string]any/[]any and decoded into it via mapstructure.
func (d *Decoder) Decode(doc domain.Document, target any) error {
	if target == nil {
		return domain.ErrTargetNil
	}
	if dp, ok := target.(*domain.Document); ok {
		if dp == nil {
			return domain.ErrTargetNil
		}
		*dp = doc
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: TagName,
		Result:  target,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(flatten(doc)); err != nil {
		return &domain.ErrDecode{Target: target, Err: err}
	}
	return nil
}

// flatten converts a Document tree (and any nested documents/arrays it
// contains) into plain map[string]any/[]any so mapstructure's reflection
// never has to know about the Document interface.
func flatten(v any) any {
	switch t := v.(type) {
	case domain.Document:
		out := make(map[string]any, t.Len())
		for k, val := range t.Iter() {
			out[k] = flatten(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = flatten(val)
		}
		return out
	default:
		return v
	}
}
