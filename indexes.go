package satchel

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"satchel/domain"
)

// EnsureIndex builds a new index over the given field(s) (see [WithFields])
// and backfills it from every document already in the collection. A no-op
// if an index already exists over the exact same field set.
func (c *Collection) EnsureIndex(ctx context.Context, options ...EnsureIndexOption) error {
	var err error
	pushErr := c.executor.Push(ctx, func(ctx context.Context) {
		err = c.ensureIndex(ctx, options...)
	}, false)
	if pushErr != nil {
		return pushErr
	}
	return err
}

func (c *Collection) ensureIndex(ctx context.Context, options ...EnsureIndexOption) error {
	var opts domain.EnsureIndexOptions
	for _, opt := range options {
		opt(&opts)
	}
	if len(opts.FieldNames) == 0 || slices.Contains(opts.FieldNames, "") {
		return domain.ErrNoFieldName
	}
	if slices.ContainsFunc(opts.FieldNames, func(s string) bool { return strings.Contains(s, ",") }) {
		return fmt.Errorf("%w: index field names cannot contain ','", domain.ErrInvalidKey)
	}

	fields := slices.Clone(opts.FieldNames)
	slices.Sort(fields)
	key := domain.IndexKey(fields)
	if _, exists := c.indexes[key]; exists {
		return nil
	}

	if opts.HasExpiry && len(fields) == 1 {
		if err := c.rejectArrayTTLValue(fields[0], c.getAllData()...); err != nil {
			return err
		}
	}

	idxOpts := []domain.IndexOption{
		domain.WithIndexFieldNames(fields...),
		domain.WithIndexUnique(opts.Unique),
		domain.WithIndexSparse(opts.Sparse),
		domain.WithIndexComparer(c.comparer),
		domain.WithIndexFieldNavigator(c.fieldNavigator),
	}
	if opts.HasExpiry {
		idxOpts = append(idxOpts, domain.WithIndexExpireAfter(opts.ExpireAfter))
	}

	idx, err := c.indexFactory(idxOpts...)
	if err != nil {
		return err
	}
	if err := idx.Insert(ctx, c.getAllData()...); err != nil {
		return err
	}
	c.indexes[key] = idx
	if opts.HasExpiry && len(fields) == 1 {
		c.ttlIndexes[fields[0]] = opts.ExpireAfter
	}

	created := &domain.IndexCreated{
		FieldNames: fields,
		Unique:     opts.Unique,
		Sparse:     opts.Sparse,
		HasExpiry:  opts.HasExpiry,
	}
	if opts.HasExpiry {
		created.ExpireAfter = opts.ExpireAfter.Seconds()
	}
	recordDoc, err := c.indexRecord(created)
	if err != nil {
		delete(c.indexes, key)
		delete(c.ttlIndexes, fields[0])
		return err
	}
	return c.persistence.PersistNewState(ctx, recordDoc)
}

// RemoveIndex drops the index built over the given field(s), if one exists.
func (c *Collection) RemoveIndex(ctx context.Context, fieldNames ...string) error {
	var err error
	pushErr := c.executor.Push(ctx, func(ctx context.Context) {
		err = c.removeIndex(ctx, fieldNames...)
	}, false)
	if pushErr != nil {
		return pushErr
	}
	return err
}

func (c *Collection) removeIndex(ctx context.Context, fieldNames ...string) error {
	fields := slices.Clone(fieldNames)
	slices.Sort(fields)
	key := domain.IndexKey(fields)
	if key == "_id" {
		return fmt.Errorf("%w: cannot remove the primary index", domain.ErrInvalidOptions)
	}
	if _, exists := c.indexes[key]; !exists {
		return nil
	}
	delete(c.indexes, key)
	for _, f := range fields {
		delete(c.ttlIndexes, f)
	}

	removedDoc, err := c.documentFactory(map[string]any{"$$indexRemoved": key})
	if err != nil {
		return err
	}
	return c.persistence.PersistNewState(ctx, removedDoc)
}

// rejectArrayTTLValue rejects an array-typed value at field in any of docs.
// A TTL index's expireAfterSeconds needs a single Date to add the duration
// to; an array of dates has no well-defined expiry instant, so this is
// checked eagerly (at index creation and at every later write) instead of
// left for getCandidates to discover.
func (c *Collection) rejectArrayTTLValue(field string, docs ...domain.Document) error {
	for _, doc := range docs {
		v, ok := c.fieldNavigator.Get(doc, field)
		if !ok {
			continue
		}
		if _, isArr := v.([]any); isArr {
			return &domain.ErrFieldValue{Field: field, Reason: "TTL field cannot hold an array of dates"}
		}
	}
	return nil
}

// indexRecord builds the "$$indexCreated" sentinel document persisted
// alongside an EnsureIndex call, matching the shape the persistence layer's
// decodeIndexDTO parses on replay.
func (c *Collection) indexRecord(created *domain.IndexCreated) (domain.Document, error) {
	fieldNames := make([]any, len(created.FieldNames))
	for i, f := range created.FieldNames {
		fieldNames[i] = f
	}
	body := map[string]any{
		"fieldNames": fieldNames,
		"unique":     created.Unique,
		"sparse":     created.Sparse,
	}
	if created.HasExpiry {
		body["expireAfterSeconds"] = created.ExpireAfter
	}
	return c.documentFactory(map[string]any{"$$indexCreated": body})
}
