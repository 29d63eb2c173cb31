// Package index implements [domain.Index] as an ordered, AVL-backed
// structure over a [github.com/vinicius-lino-figueiredo/bst.BinarySearchTree],
// matching the ordering and range-query behavior the data model requires of
// a secondary index.
package index

import (
	"context"
	"slices"
	"time"

	"github.com/vinicius-lino-figueiredo/bst"

	"satchel/adapter/comparer"
	"satchel/adapter/document"
	"satchel/adapter/fieldnavigator"
	"satchel/adapter/hasher"
	"satchel/domain"
	"satchel/pkg/uncomparablemap"
)

// Index implements [domain.Index].
type Index struct {
	fieldNames  []string
	unique      bool
	sparse      bool
	expireAfter time.Duration
	hasExpiry   bool

	// Tree is exported so tests can inspect it directly.
	Tree *bst.BinarySearchTree

	treeOptions    bst.Options
	comparer       domain.Comparer
	hasher         domain.Hasher
	fieldNavigator domain.FieldNavigator
}

// New returns a new [domain.Index], satisfying [domain.IndexFactory].
func New(opts ...domain.IndexOption) (domain.Index, error) {
	docFac := document.New
	o := domain.IndexOptions{
		Comparer:       comparer.NewComparer(),
		FieldNavigator: fieldnavigator.New(docFac),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.FieldNames) == 0 {
		return nil, domain.ErrNoFieldName
	}
	if o.Comparer == nil {
		o.Comparer = comparer.NewComparer()
	}
	if o.FieldNavigator == nil {
		o.FieldNavigator = fieldnavigator.New(docFac)
	}

	cmp := o.Comparer
	treeOptions := bst.Options{
		Unique:      o.Unique,
		CompareKeys: func(a, b any) int { return cmp.Compare(a, b) },
	}

	return &Index{
		fieldNames:     slices.Clone(o.FieldNames),
		unique:         o.Unique,
		sparse:         o.Sparse,
		expireAfter:    o.ExpireAfter,
		hasExpiry:      o.HasExpiry,
		treeOptions:    treeOptions,
		Tree:           bst.NewBinarySearchTree(treeOptions),
		comparer:       cmp,
		hasher:         hasher.NewHasher(),
		fieldNavigator: o.FieldNavigator,
	}, nil
}

// FieldName implements [domain.Index].
func (i *Index) FieldName() []string { return i.fieldNames }

// Unique implements [domain.Index].
func (i *Index) Unique() bool { return i.unique }

// Sparse implements [domain.Index].
func (i *Index) Sparse() bool { return i.sparse }

// ExpireAfter implements [domain.Index].
func (i *Index) ExpireAfter() (time.Duration, bool) { return i.expireAfter, i.hasExpiry }

// Reset implements [domain.Index].
func (i *Index) Reset(ctx context.Context, docs ...domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.Tree = bst.NewBinarySearchTree(i.treeOptions)
	return i.Insert(ctx, docs...)
}

// getKeys returns the set of index keys doc contributes, and whether the
// document carried any non-undefined value at all (used by sparse indexes
// to decide whether to skip the document entirely).
func (i *Index) getKeys(doc domain.Document) ([]any, bool) {
	if len(i.fieldNames) != 1 {
		return i.compoundKeys(doc)
	}

	v, ok := i.fieldNavigator.Get(doc, i.fieldNames[0])
	if !ok {
		return []any{domain.Undef}, false
	}
	if arr, isArr := v.([]any); isArr {
		if len(arr) == 0 {
			return nil, false
		}
		return dedupe(arr, i.comparer), true
	}
	return []any{v}, true
}

func (i *Index) compoundKeys(doc domain.Document) ([]any, bool) {
	key, err := document.New(nil)
	if err != nil {
		return nil, false
	}
	containsValue := false
	for _, field := range i.fieldNames {
		v, ok := i.fieldNavigator.Get(doc, field)
		if !ok || domain.IsUndef(v) {
			key.Set(field, nil)
			continue
		}
		key.Set(field, v)
		containsValue = true
	}
	return []any{key}, containsValue
}

func dedupe(vals []any, cmp domain.Comparer) []any {
	out := slices.Clone(vals)
	slices.SortFunc(out, cmp.Compare)
	return slices.CompactFunc(out, func(a, b any) bool { return cmp.Compare(a, b) == 0 })
}

// Insert implements [domain.Index]. On failure every key inserted by this
// call is rolled back, leaving the tree as it was before the call.
func (i *Index) Insert(ctx context.Context, docs ...domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	type inserted struct {
		key  any
		docs []domain.Document
	}
	byHash := make(map[uint64]inserted, len(docs))

	var failure error
insertLoop:
	for _, d := range docs {
		keys, hasValue := i.getKeys(d)
		if i.sparse && !hasValue {
			continue
		}
		for _, k := range keys {
			if failure = i.Tree.Insert(k, d); failure != nil {
				break insertLoop
			}
			h, err := i.hasher.Hash(k)
			if err != nil {
				failure = err
				break insertLoop
			}
			entry := byHash[h]
			entry.key = k
			entry.docs = append(entry.docs, d)
			byHash[h] = entry
		}
	}

	if failure != nil {
		for _, entry := range byHash {
			for _, d := range entry.docs {
				i.Tree.Delete(entry.key, d)
			}
		}
		return failure
	}
	return nil
}

// Remove implements [domain.Index].
func (i *Index) Remove(ctx context.Context, docs ...domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, d := range docs {
		keys, hasValue := i.getKeys(d)
		if i.sparse && !hasValue {
			continue
		}
		for _, k := range keys {
			i.Tree.Delete(k, d)
		}
	}
	return nil
}

// Update implements [domain.Index]. On failure to insert newDoc, oldDoc is
// reinserted (uncancellable) so the index is left unchanged.
func (i *Index) Update(ctx context.Context, oldDoc, newDoc domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := i.Remove(ctx, oldDoc); err != nil {
		return err
	}
	if err := i.Insert(ctx, newDoc); err != nil {
		_ = i.Insert(context.WithoutCancel(ctx), oldDoc)
		return err
	}
	return nil
}

// UpdateMultipleDocs implements [domain.Index].
func (i *Index) UpdateMultipleDocs(ctx context.Context, pairs []domain.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	uncancellable := context.WithoutCancel(ctx)
	for _, pair := range pairs {
		_ = i.Remove(uncancellable, pair.OldDoc)
	}

	var failure error
	failedAt := len(pairs)
	for n, pair := range pairs {
		if err := ctx.Err(); err != nil {
			failure = err
			failedAt = n
			break
		}
		if err := i.Insert(ctx, pair.NewDoc); err != nil {
			failure = err
			failedAt = n
			break
		}
	}

	if failure != nil {
		for n := range failedAt {
			_ = i.Remove(uncancellable, pairs[n].NewDoc)
		}
		for _, pair := range pairs {
			_ = i.Insert(uncancellable, pair.OldDoc)
		}
	}
	return failure
}

// RevertUpdate implements [domain.Index].
func (i *Index) RevertUpdate(ctx context.Context, oldDoc, newDoc domain.Document) error {
	return i.Update(ctx, newDoc, oldDoc)
}

// RevertMultipleUpdates implements [domain.Index].
func (i *Index) RevertMultipleUpdates(ctx context.Context, pairs []domain.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reverted := make([]domain.Update, len(pairs))
	for n, p := range pairs {
		reverted[n] = domain.Update{OldDoc: p.NewDoc, NewDoc: p.OldDoc}
	}
	return i.UpdateMultipleDocs(ctx, reverted)
}

// GetMatching implements [domain.Index].
func (i *Index) GetMatching(ctx context.Context, value any) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found := i.Tree.Search(value)
	res := make([]domain.Document, 0, len(found))
	seen := uncomparablemap.New[bool](i.hasher, i.comparer)
	for _, f := range found {
		d := f.(domain.Document)
		id, _ := d.ID()
		if ok, _, _ := seen.Get(id); ok {
			continue
		}
		_ = seen.Set(id, true)
		res = append(res, d)
	}
	return res, nil
}

// boundsQuery renders bounds the way the underlying tree expects its
// range-query argument: a map of comparison operator to bound value, with
// the two trailing arguments reserved for future lower/upper refinements
// and left nil, mirroring how every call site in this codebase's lineage
// invokes BetweenBounds.
func boundsQuery(b domain.Bounds) map[string]any {
	m := map[string]any{}
	if b.GT != nil {
		m["$gt"] = b.GT
	}
	if b.GTE != nil {
		m["$gte"] = b.GTE
	}
	if b.LT != nil {
		m["$lt"] = b.LT
	}
	if b.LTE != nil {
		m["$lte"] = b.LTE
	}
	return m
}

// GetBetweenBounds implements [domain.Index].
func (i *Index) GetBetweenBounds(ctx context.Context, bounds domain.Bounds) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found := i.Tree.BetweenBounds(boundsQuery(bounds), nil, nil)
	res := make([]domain.Document, len(found))
	for n, f := range found {
		res[n] = f.(domain.Document)
	}
	return res, nil
}

// GetAll implements [domain.Index].
func (i *Index) GetAll() []domain.Document {
	var res []domain.Document
	i.Tree.ExecuteOnEveryNode(func(node *bst.BinarySearchTree) {
		for _, d := range node.Data() {
			res = append(res, d.(domain.Document))
		}
	})
	return res
}

// GetNumberOfKeys implements [domain.Index].
func (i *Index) GetNumberOfKeys() int {
	return i.Tree.GetNumberOfKeys()
}
