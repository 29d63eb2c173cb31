// Package deserializer implements [domain.Deserializer]: it parses a single
// persisted log line back into plain Go values, turning any "$$date"
// sentinel object back into a [time.Time] along the way.
package deserializer

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"satchel/adapter/document"
	"satchel/domain"
)

// Deserializer implements [domain.Deserializer].
type Deserializer struct {
	decoder domain.Decoder
}

// Option configures a [Deserializer].
type Option func(*Deserializer)

// WithDecoder overrides the decoder used when target is neither
// *map[string]any nor *domain.Document.
func WithDecoder(d domain.Decoder) Option {
	return func(ds *Deserializer) { ds.decoder = d }
}

// New returns a new [domain.Deserializer].
func New(opts ...Option) domain.Deserializer {
	ds := &Deserializer{}
	for _, opt := range opts {
		opt(ds)
	}
	return ds
}

// Deserialize implements [domain.Deserializer].
func (ds *Deserializer) Deserialize(ctx context.Context, line []byte, target any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if target == nil {
		return domain.ErrTargetNil
	}

	var m document.M
	if err := json.NewDecoder(bytes.NewReader(line)).Decode(&m); err != nil {
		return err
	}
	convertDates(m)

	switch t := target.(type) {
	case *map[string]any:
		*t = m
		return nil
	case *domain.Document:
		*t = m
		return nil
	}
	if ds.decoder == nil {
		return domain.ErrTargetNil
	}
	return ds.decoder.Decode(m, target)
}

func convertDates(m document.M) {
	for k, v := range m {
		m[k] = convertAny(v)
	}
}

func convertAny(v any) any {
	switch t := v.(type) {
	case document.M:
		if ms, ok := t["$$date"]; ok {
			if f, ok := ms.(float64); ok && len(t) == 1 {
				return time.UnixMilli(int64(f))
			}
		}
		convertDates(t)
		return t
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = convertAny(item)
		}
		return out
	default:
		return v
	}
}
