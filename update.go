package satchel

import (
	"context"
	"fmt"

	"satchel/domain"
)

// Update applies updateQuery to the first document matching query (or to
// every match, with [WithUpdateMulti]), returning a clone of each resulting
// document. With [WithUpsert], a document derived from query and
// updateQuery is inserted instead when nothing matches.
func (c *Collection) Update(ctx context.Context, query any, updateQuery any, options ...UpdateOption) ([]domain.Document, error) {
	var res []domain.Document
	var err error
	pushErr := c.executor.Push(ctx, func(ctx context.Context) {
		res, err = c.update(ctx, query, updateQuery, options...)
	}, false)
	if pushErr != nil {
		return nil, pushErr
	}
	return res, err
}

func (c *Collection) update(ctx context.Context, query any, updateQuery any, options ...UpdateOption) ([]domain.Document, error) {
	updateDoc, err := c.documentFactory(updateQuery)
	if err != nil {
		return nil, err
	}

	var opts domain.UpdateOptions
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Multi && opts.Upsert {
		return nil, fmt.Errorf("%w: upsert cannot be combined with multi", domain.ErrInvalidOptions)
	}
	var limit int64 = 1
	if opts.Multi {
		limit = 0
	}

	if opts.Upsert {
		inserted, didInsert, err := c.upsert(ctx, query, updateDoc, limit)
		if err != nil || didInsert {
			return inserted, err
		}
	}

	updated, mods, err := c.findAndModify(ctx, query, updateDoc, limit)
	if err != nil {
		return nil, err
	}
	for field := range c.ttlIndexes {
		if err := c.rejectArrayTTLValue(field, updated...); err != nil {
			return nil, err
		}
	}

	ctx = context.WithoutCancel(ctx)
	if err := c.updateIndexes(ctx, mods); err != nil {
		return nil, err
	}
	if err := c.persistence.PersistNewState(ctx, updated...); err != nil {
		return nil, err
	}
	return cloneDocs(updated), nil
}

// upsert inserts a document derived from query and mod when query matches
// nothing. Since Multi and Upsert can never be combined (update rejects
// that before calling upsert), limit is always 1 here, so "any match"
// and "exactly one match" agree on when to skip the insert.
func (c *Collection) upsert(ctx context.Context, query any, mod domain.Document, limit int64) ([]domain.Document, bool, error) {
	cur, err := c.find(ctx, query, false, domain.WithLimit(limit))
	if err != nil {
		return nil, false, err
	}
	var count int64
	for cur.Next() {
		count++
	}
	if err := cur.Err(); err != nil {
		return nil, false, err
	}
	if count > 0 {
		return nil, false, nil
	}

	toInsert := mod
	if err := c.checkDocuments(mod); err != nil {
		queryDoc, err := c.documentFactory(query)
		if err != nil {
			return nil, false, err
		}
		toInsert, err = c.modifier.Modify(queryDoc, mod)
		if err != nil {
			return nil, false, err
		}
	}
	// insert re-validates toInsert's key names itself, whichever branch above
	// produced it, so there's no separate checkDocuments call needed here.
	inserted, err := c.insert(ctx, toInsert)
	if err != nil {
		return nil, false, err
	}
	return inserted, true, nil
}

func (c *Collection) findAndModify(ctx context.Context, query any, modQuery domain.Document, limit int64) ([]domain.Document, []domain.Update, error) {
	cur, err := c.find(ctx, query, false, domain.WithLimit(limit))
	if err != nil {
		return nil, nil, err
	}
	defer cur.Close()

	var mods []domain.Update
	var updated []domain.Document
	for cur.Next() {
		var oldDoc domain.Document
		if err := cur.Decode(&oldDoc); err != nil {
			return nil, nil, err
		}
		newDoc, err := c.modifier.Modify(oldDoc, modQuery)
		if err != nil {
			return nil, nil, err
		}
		if err := c.checkDocuments(newDoc); err != nil {
			return nil, nil, err
		}
		if c.timestampData {
			if createdAt, ok := oldDoc.Get("createdAt"); ok {
				newDoc.Set("createdAt", createdAt)
			}
			newDoc.Set("updatedAt", c.timeGetter.Now())
		}
		mods = append(mods, domain.Update{OldDoc: oldDoc, NewDoc: newDoc})
		updated = append(updated, newDoc)
	}
	if err := cur.Err(); err != nil {
		return nil, nil, err
	}
	return updated, mods, nil
}

// updateIndexes applies mods to every index. On failure, every index that
// already applied the batch has it reverted, leaving the indexes as they
// were before the call.
func (c *Collection) updateIndexes(ctx context.Context, mods []domain.Update) error {
	if len(mods) == 0 {
		return nil
	}
	succeeded := make([]domain.Index, 0, len(c.indexes))
	for _, idx := range c.indexes {
		if err := idx.UpdateMultipleDocs(ctx, mods); err != nil {
			for _, s := range succeeded {
				_ = s.RevertMultipleUpdates(ctx, mods)
			}
			return err
		}
		succeeded = append(succeeded, idx)
	}
	return nil
}
