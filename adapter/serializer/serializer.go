// Package serializer implements [domain.Serializer]: it turns a
// [domain.Document] (or an index DTO) into a single line of JSON, tagging
// dates as they go by and re-running key validation one last time before the
// bytes leave the process.
package serializer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"satchel/domain"
)

// Serializer implements [domain.Serializer].
type Serializer struct {
	documentFactory domain.DocumentFactory
}

// Option configures a [Serializer].
type Option func(*Serializer)

// WithDocumentFactory overrides the document factory used to build the
// date-tagged copy.
func WithDocumentFactory(f domain.DocumentFactory) Option {
	return func(s *Serializer) { s.documentFactory = f }
}

// New returns a new [domain.Serializer].
func New(opts ...Option) domain.Serializer {
	s := &Serializer{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serialize implements [domain.Serializer]. v is either a [domain.Document]
// (a live record or a "$$deleted" tombstone) or a [domain.IndexDTO]
// ("$$indexCreated"/"$$indexRemoved").
func (s *Serializer) Serialize(ctx context.Context, v any) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	doc, ok := v.(domain.Document)
	if !ok {
		return json.Marshal(v)
	}

	cp, err := s.copyDoc(doc)
	if err != nil {
		return nil, err
	}
	for k, val := range cp.Iter() {
		if err := checkKey(k, val); err != nil {
			return nil, err
		}
	}
	return json.Marshal(cp)
}

func (s *Serializer) copyDoc(doc domain.Document) (domain.Document, error) {
	res, err := s.newDoc()
	if err != nil {
		return nil, err
	}
	for k, v := range doc.Iter() {
		cv, err := s.copyAny(v)
		if err != nil {
			return nil, err
		}
		res.Set(k, cv)
	}
	return res, nil
}

func (s *Serializer) copyAny(v any) (any, error) {
	switch t := v.(type) {
	case domain.Document:
		return s.copyDoc(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			cv, err := s.copyAny(item)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	case time.Time:
		return s.newDoc(map[string]int64{"$$date": t.UnixMilli()})
	default:
		return v, nil
	}
}

func (s *Serializer) newDoc(v ...any) (domain.Document, error) {
	factory := s.documentFactory
	if factory == nil {
		return nil, fmt.Errorf("%w: serializer has no document factory", domain.ErrInvalidOptions)
	}
	if len(v) == 0 {
		return factory(nil)
	}
	return factory(v[0])
}

// checkKey re-validates a field name the way document insertion already
// did, so a value that reached the wire through a path insertion missed
// (e.g. a raw map handed to Serialize directly) still can't corrupt the log.
func checkKey(k string, v any) error {
	if strings.Contains(k, ".") {
		return fmt.Errorf("%w: field names cannot contain '.'", domain.ErrInvalidKey)
	}
	if !strings.HasPrefix(k, "$") {
		return nil
	}
	switch k {
	case "$$date":
		if !isNumber(v) {
			return fmt.Errorf("%w: %q requires a numeric value", domain.ErrInvalidKey, k)
		}
	case "$$deleted":
		if b, ok := v.(bool); !ok || !b {
			return fmt.Errorf("%w: %q must be true", domain.ErrInvalidKey, k)
		}
	case "$$indexCreated", "$$indexRemoved":
	default:
		return fmt.Errorf("%w: field names cannot start with '$'", domain.ErrInvalidKey)
	}
	return nil
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}
