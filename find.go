package satchel

import (
	"context"
	"slices"

	"satchel/domain"
)

// Find returns a [domain.Cursor] over every document matching query.
func (c *Collection) Find(ctx context.Context, query any, options ...FindOption) (domain.Cursor, error) {
	var cur domain.Cursor
	var err error
	pushErr := c.executor.Push(ctx, func(ctx context.Context) {
		cur, err = c.find(ctx, query, false, options...)
	}, false)
	if pushErr != nil {
		return nil, pushErr
	}
	return cur, err
}

// FindOne decodes the first document matching query into target, returning
// [domain.ErrNotFound] if nothing matches.
func (c *Collection) FindOne(ctx context.Context, query any, target any, options ...FindOption) error {
	options = append(slices.Clone(options), domain.WithLimit(1))
	var err error
	pushErr := c.executor.Push(ctx, func(ctx context.Context) {
		var cur domain.Cursor
		cur, err = c.find(ctx, query, false, options...)
		if err != nil {
			return
		}
		defer cur.Close()
		if !cur.Next() {
			if cerr := cur.Err(); cerr != nil {
				err = cerr
				return
			}
			err = domain.ErrNotFound
			return
		}
		err = cur.Decode(target)
	}, false)
	if pushErr != nil {
		return pushErr
	}
	return err
}

// Count returns the number of documents matching query.
func (c *Collection) Count(ctx context.Context, query any, options ...FindOption) (int64, error) {
	var count int64
	var err error
	pushErr := c.executor.Push(ctx, func(ctx context.Context) {
		var cur domain.Cursor
		cur, err = c.find(ctx, query, false, options...)
		if err != nil {
			return
		}
		n, cerr := cur.Count()
		if cerr != nil {
			err = cerr
			return
		}
		count = int64(n)
	}, false)
	if pushErr != nil {
		return 0, pushErr
	}
	return count, err
}

func (c *Collection) find(ctx context.Context, query any, dontExpireStaleDocs bool, options ...FindOption) (domain.Cursor, error) {
	queryDoc, err := c.documentFactory(query)
	if err != nil {
		return nil, err
	}

	var opts domain.FindOptions
	for _, opt := range options {
		opt(&opts)
	}

	candidates, err := c.getCandidates(ctx, queryDoc, dontExpireStaleDocs)
	if err != nil {
		return nil, err
	}

	return c.cursorFactory(ctx, cloneDocs(candidates),
		domain.WithCursorQuery(queryDoc),
		domain.WithCursorMatcher(c.matcher),
		domain.WithCursorComparer(c.comparer),
		domain.WithCursorFieldNavigator(c.fieldNavigator),
		domain.WithCursorSort(opts.Sort),
		domain.WithCursorSkip(opts.Skip),
		domain.WithCursorLimit(opts.Limit),
		domain.WithCursorProjection(opts.Projection),
	)
}
