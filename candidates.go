package satchel

import (
	"context"
	"time"

	"satchel/domain"
)

// getCandidates narrows the search space to the documents an index can rule
// in, then reaps any that a single-field TTL index has expired.
func (c *Collection) getCandidates(ctx context.Context, query domain.Document, dontExpireStaleDocs bool) ([]domain.Document, error) {
	docs, err := c.getRawCandidates(ctx, query)
	if err != nil {
		return nil, err
	}
	if dontExpireStaleDocs || len(c.ttlIndexes) == 0 {
		return docs, nil
	}

	now := c.timeGetter.Now()
	var expiredIDs []any
	valid := make([]domain.Document, 0, len(docs))
docLoop:
	for _, doc := range docs {
		for field, ttl := range c.ttlIndexes {
			v, ok := c.fieldNavigator.Get(doc, field)
			if !ok || domain.IsUndef(v) {
				continue
			}
			t, ok := v.(time.Time)
			if !ok {
				continue
			}
			if now.After(t.Add(ttl)) {
				id, _ := doc.ID()
				expiredIDs = append(expiredIDs, id)
				continue docLoop
			}
		}
		valid = append(valid, doc)
	}
	if len(expiredIDs) == 0 {
		return valid, nil
	}

	reapCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	for _, id := range expiredIDs {
		rm, err := c.documentFactory(map[string]any{"_id": id})
		if err != nil {
			return nil, err
		}
		if _, err := c.remove(reapCtx, rm, false); err != nil {
			return nil, err
		}
	}
	return valid, nil
}

// getRawCandidates picks the cheapest index that can narrow the search
// space for query, falling back to every live document when none can.
func (c *Collection) getRawCandidates(ctx context.Context, query domain.Document) ([]domain.Document, error) {
	if query.Len() == 0 {
		return c.getAllData(), nil
	}
	if res, ok, err := c.getSimpleCandidates(ctx, query); err != nil || ok {
		return res, err
	}
	if res, ok, err := c.getComposedCandidates(ctx, query); err != nil || ok {
		return res, err
	}
	if res, ok, err := c.getEnumCandidates(ctx, query); err != nil || ok {
		return res, err
	}
	if res, ok, err := c.getCompCandidates(ctx, query); err != nil || ok {
		return res, err
	}
	return c.getAllData(), nil
}

// getSimpleCandidates matches a query field that equals an indexed field
// directly (not nested under an operator document).
func (c *Collection) getSimpleCandidates(ctx context.Context, query domain.Document) ([]domain.Document, bool, error) {
	for k, v := range query.Iter() {
		idx, ok := c.indexes[k]
		if !ok {
			continue
		}
		if _, isDoc := v.(domain.Document); isDoc {
			continue
		}
		if _, isArr := v.([]any); isArr {
			continue
		}
		res, err := idx.GetMatching(ctx, v)
		return res, true, err
	}
	return nil, false, nil
}

// getComposedCandidates matches a query that names every field of some
// compound index with a plain (non-operator) value.
func (c *Collection) getComposedCandidates(ctx context.Context, query domain.Document) ([]domain.Document, bool, error) {
indexLoop:
	for key, idx := range c.indexes {
		parts := splitIndexKey(key)
		if len(parts) < 2 {
			continue
		}
		keyDoc, err := c.documentFactory(nil)
		if err != nil {
			return nil, false, err
		}
		for _, field := range parts {
			v, ok := query.Get(field)
			if !ok {
				continue indexLoop
			}
			if _, isDoc := v.(domain.Document); isDoc {
				continue indexLoop
			}
			keyDoc.Set(field, v)
		}
		res, err := idx.GetMatching(ctx, keyDoc)
		return res, true, err
	}
	return nil, false, nil
}

// getEnumCandidates matches a query field's "$in" operator against a
// single-field index, unioning every listed value's matches.
func (c *Collection) getEnumCandidates(ctx context.Context, query domain.Document) ([]domain.Document, bool, error) {
	for k, v := range query.Iter() {
		vDoc, ok := v.(domain.Document)
		if !ok {
			continue
		}
		in, ok := vDoc.Get("$in")
		if !ok {
			continue
		}
		idx, ok := c.indexes[k]
		if !ok {
			continue
		}

		values, ok := in.([]any)
		if !ok {
			values = []any{in}
		}
		res := make([]domain.Document, 0, len(values))
		seen := make(map[string]bool)
		for _, val := range values {
			matches, err := idx.GetMatching(ctx, val)
			if err != nil {
				return nil, false, err
			}
			for _, d := range matches {
				id, _ := d.ID()
				if seen[id] {
					continue
				}
				seen[id] = true
				res = append(res, d)
			}
		}
		return res, true, nil
	}
	return nil, false, nil
}

// getCompCandidates matches a query field's range operators
// ($lt/$lte/$gt/$gte) against a single-field index.
func (c *Collection) getCompCandidates(ctx context.Context, query domain.Document) ([]domain.Document, bool, error) {
	ops := [...]string{"$lt", "$lte", "$gt", "$gte"}
	for k, v := range query.Iter() {
		vDoc, ok := v.(domain.Document)
		if !ok {
			continue
		}
		idx, ok := c.indexes[k]
		if !ok {
			continue
		}

		var bounds domain.Bounds
		hasBound := false
		for _, op := range ops {
			val, ok := vDoc.Get(op)
			if !ok {
				continue
			}
			hasBound = true
			switch op {
			case "$lt":
				bounds.LT = val
			case "$lte":
				bounds.LTE = val
			case "$gt":
				bounds.GT = val
			case "$gte":
				bounds.GTE = val
			}
		}
		if !hasBound {
			continue
		}
		res, err := idx.GetBetweenBounds(ctx, bounds)
		return res, true, err
	}
	return nil, false, nil
}
