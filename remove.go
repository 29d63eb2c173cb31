package satchel

import (
	"context"

	"satchel/domain"
)

// Remove deletes the first document matching query (or every match, with
// [WithRemoveMulti]) and returns the number of documents removed.
func (c *Collection) Remove(ctx context.Context, query any, options ...RemoveOption) (int64, error) {
	var n int64
	var err error
	pushErr := c.executor.Push(ctx, func(ctx context.Context) {
		queryDoc, ferr := c.documentFactory(query)
		if ferr != nil {
			err = ferr
			return
		}
		var opts domain.RemoveOptions
		for _, opt := range options {
			opt(&opts)
		}
		n, err = c.remove(ctx, queryDoc, opts.Multi)
	}, false)
	if pushErr != nil {
		return 0, pushErr
	}
	return n, err
}

func (c *Collection) remove(ctx context.Context, query domain.Document, multi bool) (int64, error) {
	var limit int64 = 1
	if multi {
		limit = 0
	}

	cur, err := c.find(ctx, query, true, domain.WithLimit(limit))
	if err != nil {
		return 0, err
	}

	var toRemove []domain.Document
	for cur.Next() {
		var doc domain.Document
		if err := cur.Decode(&doc); err != nil {
			return 0, err
		}
		toRemove = append(toRemove, doc)
	}
	if err := cur.Err(); err != nil {
		return 0, err
	}

	ctx = context.WithoutCancel(ctx)
	tombstones := make([]domain.Document, len(toRemove))
	for n, doc := range toRemove {
		if err := c.removeFromIndexes(ctx, doc); err != nil {
			return 0, err
		}
		id, _ := doc.ID()
		tombstone, err := c.documentFactory(map[string]any{"_id": id, "$$deleted": true})
		if err != nil {
			return 0, err
		}
		tombstones[n] = tombstone
	}

	if err := c.persistence.PersistNewState(ctx, tombstones...); err != nil {
		return 0, err
	}
	return int64(len(toRemove)), nil
}
