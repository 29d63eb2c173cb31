package satchel

import (
	"context"
	"fmt"
	"strings"

	"satchel/domain"
)

// Insert adds one or more documents to the collection, generating an "_id"
// for any document missing one, and returns a clone of each inserted
// document.
func (c *Collection) Insert(ctx context.Context, docs ...any) ([]domain.Document, error) {
	var res []domain.Document
	var err error
	pushErr := c.executor.Push(ctx, func(ctx context.Context) {
		res, err = c.insert(ctx, docs...)
	}, false)
	if pushErr != nil {
		return nil, pushErr
	}
	return res, err
}

func (c *Collection) insert(ctx context.Context, newDocs ...any) ([]domain.Document, error) {
	if len(newDocs) == 0 {
		return nil, nil
	}
	prepared, err := c.prepareDocumentsForInsertion(ctx, newDocs)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	if err := c.insertInCache(ctx, prepared); err != nil {
		return nil, err
	}
	if err := c.persistence.PersistNewState(ctx, prepared...); err != nil {
		return nil, err
	}
	return cloneDocs(prepared), nil
}

func (c *Collection) prepareDocumentsForInsertion(ctx context.Context, newDocs []any) ([]domain.Document, error) {
	prepared := make([]domain.Document, len(newDocs))
	for n, raw := range newDocs {
		doc, err := c.documentFactory(raw)
		if err != nil {
			return nil, err
		}
		doc = doc.Clone()
		if !doc.Has("_id") {
			id, err := c.createNewID(ctx)
			if err != nil {
				return nil, err
			}
			doc.Set("_id", id)
		}
		if c.timestampData {
			now := c.timeGetter.Now()
			if !doc.Has("createdAt") {
				doc.Set("createdAt", now)
			}
			if !doc.Has("updatedAt") {
				doc.Set("updatedAt", now)
			}
		}
		if err := c.checkDocuments(doc); err != nil {
			return nil, err
		}
		for field := range c.ttlIndexes {
			if err := c.rejectArrayTTLValue(field, doc); err != nil {
				return nil, err
			}
		}
		prepared[n] = doc
	}
	return prepared, nil
}

func (c *Collection) createNewID(ctx context.Context) (string, error) {
	for {
		id, err := c.idGenerator.GenerateID(defaultIDLength)
		if err != nil {
			return "", err
		}
		matches, err := c.indexes["_id"].GetMatching(ctx, id)
		if err != nil {
			return "", err
		}
		if len(matches) == 0 {
			return id, nil
		}
	}
}

// checkDocuments rejects a "$"-prefixed or dotted key anywhere in a
// document's tree; those are reserved for the persistence layer's own
// sentinel records.
func (c *Collection) checkDocuments(docs ...domain.Document) error {
	for _, doc := range docs {
		for k, v := range doc.Iter() {
			if strings.Contains(k, ".") {
				return fmt.Errorf("%w: field names cannot contain '.'", domain.ErrInvalidKey)
			}
			if strings.HasPrefix(k, "$") {
				return fmt.Errorf("%w: field names cannot start with '$'", domain.ErrInvalidKey)
			}
			pending := []any{v}
			for len(pending) > 0 {
				e := pending[len(pending)-1]
				pending = pending[:len(pending)-1]
				switch t := e.(type) {
				case domain.Document:
					if err := c.checkDocuments(t); err != nil {
						return err
					}
				case []any:
					pending = append(pending, t...)
				}
			}
		}
	}
	return nil
}

func (c *Collection) insertInCache(ctx context.Context, prepared []domain.Document) error {
	failingIndex := -1
	var err error
	for i, doc := range prepared {
		if err = c.addToIndexes(ctx, doc); err != nil {
			failingIndex = i
			break
		}
	}
	if err == nil {
		return nil
	}
	for i := 0; i < failingIndex; i++ {
		if removeErr := c.removeFromIndexes(ctx, prepared[i]); removeErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, removeErr)
		}
	}
	return err
}

// addToIndexes inserts doc into every index. On failure, doc is removed
// from every index it was already added to, leaving the indexes as they
// were before the call.
func (c *Collection) addToIndexes(ctx context.Context, doc domain.Document) error {
	succeeded := make([]domain.Index, 0, len(c.indexes))
	for _, idx := range c.indexes {
		if err := idx.Insert(ctx, doc); err != nil {
			for _, s := range succeeded {
				_ = s.Remove(ctx, doc)
			}
			return err
		}
		succeeded = append(succeeded, idx)
	}
	return nil
}

func (c *Collection) removeFromIndexes(ctx context.Context, docs ...domain.Document) error {
	for _, idx := range c.indexes {
		if err := idx.Remove(ctx, docs...); err != nil {
			return err
		}
	}
	return nil
}
