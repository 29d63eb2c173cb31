package index

import (
	"context"
	"slices"
	"time"

	"satchel/domain"
)

// PrimaryIndex implements [domain.Index] as a unique hash index over a
// document's "_id" field. Unlike [Index], it never needs ordering, so it
// skips the AVL tree entirely and buckets documents by [domain.Hasher]
// instead, the way a primary key lookup should be O(1) rather than O(log n).
type PrimaryIndex struct {
	hasher  domain.Hasher
	buckets [][]primaryEntry
	order   []string
}

type primaryEntry struct {
	id  string
	doc domain.Document
}

// NewPrimary returns a [domain.Index] specialized for the "_id" field.
func NewPrimary(h domain.Hasher) domain.Index {
	return &PrimaryIndex{
		hasher:  h,
		buckets: make([][]primaryEntry, 16),
	}
}

// FieldName implements [domain.Index].
func (p *PrimaryIndex) FieldName() []string { return []string{"_id"} }

// Unique implements [domain.Index].
func (p *PrimaryIndex) Unique() bool { return true }

// Sparse implements [domain.Index].
func (p *PrimaryIndex) Sparse() bool { return false }

// ExpireAfter implements [domain.Index]. A primary index never expires.
func (p *PrimaryIndex) ExpireAfter() (time.Duration, bool) { return 0, false }

func (p *PrimaryIndex) bucketIndex(id string) (int, error) {
	h, err := p.hasher.Hash(id)
	if err != nil {
		return 0, err
	}
	return int(h % uint64(len(p.buckets))), nil
}

func (p *PrimaryIndex) lookup(id string) (domain.Document, bool, error) {
	idx, err := p.bucketIndex(id)
	if err != nil {
		return nil, false, err
	}
	for _, e := range p.buckets[idx] {
		if e.id == id {
			return e.doc, true, nil
		}
	}
	return nil, false, nil
}

func (p *PrimaryIndex) insertOne(doc domain.Document) error {
	id, ok := doc.ID()
	if !ok {
		return &domain.ErrFieldValue{Field: "_id", Reason: "document has no _id"}
	}
	if _, exists, err := p.lookup(id); err != nil {
		return err
	} else if exists {
		return &domain.ErrUniqueKeyViolated{FieldName: "_id", Key: id}
	}
	idx, err := p.bucketIndex(id)
	if err != nil {
		return err
	}
	p.buckets[idx] = append(p.buckets[idx], primaryEntry{id: id, doc: doc})
	p.order = append(p.order, id)
	if len(p.order) <= 4*len(p.buckets) {
		return nil
	}
	// Double the bucket count so buckets stay short as the index grows.
	grown := make([][]primaryEntry, 2*len(p.buckets))
	for _, bucket := range p.buckets {
		for _, e := range bucket {
			h, err := p.hasher.Hash(e.id)
			if err != nil {
				return nil // keep the current buckets; the entry is stored
			}
			n := h % uint64(len(grown))
			grown[n] = append(grown[n], e)
		}
	}
	p.buckets = grown
	return nil
}

func (p *PrimaryIndex) removeOne(doc domain.Document) error {
	id, ok := doc.ID()
	if !ok {
		return nil
	}
	idx, err := p.bucketIndex(id)
	if err != nil {
		return err
	}
	bucket := p.buckets[idx]
	for n, e := range bucket {
		if e.id == id {
			p.buckets[idx] = slices.Delete(bucket, n, n+1)
			break
		}
	}
	if n := slices.Index(p.order, id); n != -1 {
		p.order = slices.Delete(p.order, n, n+1)
	}
	return nil
}

// Reset implements [domain.Index].
func (p *PrimaryIndex) Reset(ctx context.Context, docs ...domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.buckets = make([][]primaryEntry, 16)
	p.order = nil
	return p.Insert(ctx, docs...)
}

// Insert implements [domain.Index]. On failure every document inserted by
// this call is removed again, leaving the index as it was before the call.
func (p *PrimaryIndex) Insert(ctx context.Context, docs ...domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inserted := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		if err := p.insertOne(d); err != nil {
			for _, done := range inserted {
				_ = p.removeOne(done)
			}
			return err
		}
		inserted = append(inserted, d)
	}
	return nil
}

// Remove implements [domain.Index].
func (p *PrimaryIndex) Remove(ctx context.Context, docs ...domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, d := range docs {
		if err := p.removeOne(d); err != nil {
			return err
		}
	}
	return nil
}

// Update implements [domain.Index].
func (p *PrimaryIndex) Update(ctx context.Context, oldDoc, newDoc domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.removeOne(oldDoc); err != nil {
		return err
	}
	if err := p.insertOne(newDoc); err != nil {
		_ = p.insertOne(oldDoc)
		return err
	}
	return nil
}

// UpdateMultipleDocs implements [domain.Index].
func (p *PrimaryIndex) UpdateMultipleDocs(ctx context.Context, pairs []domain.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, pair := range pairs {
		_ = p.removeOne(pair.OldDoc)
	}
	for n, pair := range pairs {
		if err := p.insertOne(pair.NewDoc); err != nil {
			for k := range n {
				_ = p.removeOne(pairs[k].NewDoc)
			}
			for _, pair := range pairs {
				_ = p.insertOne(pair.OldDoc)
			}
			return err
		}
	}
	return nil
}

// RevertUpdate implements [domain.Index].
func (p *PrimaryIndex) RevertUpdate(ctx context.Context, oldDoc, newDoc domain.Document) error {
	return p.Update(ctx, newDoc, oldDoc)
}

// RevertMultipleUpdates implements [domain.Index].
func (p *PrimaryIndex) RevertMultipleUpdates(ctx context.Context, pairs []domain.Update) error {
	reverted := make([]domain.Update, len(pairs))
	for n, pr := range pairs {
		reverted[n] = domain.Update{OldDoc: pr.NewDoc, NewDoc: pr.OldDoc}
	}
	return p.UpdateMultipleDocs(ctx, reverted)
}

// GetMatching implements [domain.Index]. value must be the string "_id" to
// look up; any other type matches nothing.
func (p *PrimaryIndex) GetMatching(ctx context.Context, value any) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, ok := value.(string)
	if !ok {
		return nil, nil
	}
	doc, found, err := p.lookup(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return []domain.Document{doc}, nil
}

// GetBetweenBounds implements [domain.Index]. A hash index has no ordering,
// so range queries are a programming error rather than something to
// degrade gracefully.
func (p *PrimaryIndex) GetBetweenBounds(ctx context.Context, bounds domain.Bounds) ([]domain.Document, error) {
	return nil, domain.ErrBetweenBoundsUnsupported
}

// GetAll implements [domain.Index], in insertion order.
func (p *PrimaryIndex) GetAll() []domain.Document {
	res := make([]domain.Document, 0, len(p.order))
	for _, id := range p.order {
		if doc, found, _ := p.lookup(id); found {
			res = append(res, doc)
		}
	}
	return res
}

// GetNumberOfKeys implements [domain.Index].
func (p *PrimaryIndex) GetNumberOfKeys() int {
	return len(p.order)
}
