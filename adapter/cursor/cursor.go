// Package cursor implements [domain.Cursor]: a deferred query over a slice
// of candidate documents. Matching, sorting, skip/limit, and projection are
// all resolved once, at construction time; afterwards the cursor just walks
// the resulting slice.
package cursor

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"satchel/adapter/comparer"
	"satchel/adapter/decoder"
	"satchel/adapter/document"
	"satchel/adapter/fieldnavigator"
	"satchel/adapter/matcher"
	"satchel/domain"
	"satchel/pkg/ctxsync"
)

// Cursor implements [domain.Cursor].
type Cursor struct {
	mu        *ctxsync.Mutex
	data      []domain.Document
	started   bool
	storedErr error
	decoder   domain.Decoder
}

// New returns a new [domain.Cursor], resolving matching, sorting, skip,
// limit and projection against docs immediately.
func New(ctx context.Context, docs []domain.Document, options ...domain.CursorOption) (domain.Cursor, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	docFac := document.New
	comp := comparer.NewComparer()
	nav := fieldnavigator.New(docFac)
	opts := domain.CursorOptions{
		Matcher:   matcher.New(matcher.WithDocumentFactory(docFac), matcher.WithComparer(comp), matcher.WithFieldNavigator(nav)),
		Comparer:  comp,
		Navigator: nav,
		Decoder:   decoder.New(),
	}
	for _, opt := range options {
		opt(&opts)
	}

	cur := &Cursor{mu: ctxsync.NewMutex(), decoder: opts.Decoder}

	matched, err := filterAndFuse(docs, opts)
	if err != nil {
		return nil, err
	}

	if len(opts.Sort) != 0 {
		if len(matched) > 1 {
			matched, err = sortDocs(matched, opts)
			if err != nil {
				return nil, err
			}
		}
		matched = windowSkipLimit(matched, opts.Skip, opts.Limit)
	}

	if opts.Projection != nil && !opts.CountOnly {
		matched, err = applyProjection(matched, opts.Projection, docFac, nav)
		if err != nil {
			return nil, err
		}
	}

	cur.data = matched
	return cur, nil
}

// filterAndFuse applies the query predicate to every candidate. When there
// is no sort, skip and limit are fused into the same pass since result
// order is already candidate order; a sorted query has to see every match
// before skip/limit can mean anything.
func filterAndFuse(docs []domain.Document, opts domain.CursorOptions) ([]domain.Document, error) {
	res := make([]domain.Document, 0, len(docs))
	var skipped, added int64
	for _, doc := range docs {
		ok, err := opts.Matcher.Match(doc, opts.Query)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if len(opts.Sort) != 0 {
			res = append(res, doc)
			continue
		}
		if skipped < opts.Skip {
			skipped++
			continue
		}
		res = append(res, doc)
		added++
		if opts.Limit > 0 && added >= opts.Limit {
			break
		}
	}
	return res, nil
}

func windowSkipLimit(docs []domain.Document, skip, limit int64) []domain.Document {
	skip = max(0, skip)
	if skip > int64(len(docs)) {
		skip = int64(len(docs))
	}
	docs = docs[skip:]
	if limit <= 0 || limit > int64(len(docs)) {
		limit = int64(len(docs))
	}
	return docs[:limit]
}

func sortDocs(docs []domain.Document, opts domain.CursorOptions) ([]domain.Document, error) {
	res := slices.Clone(docs)
	var sortErr error
	slices.SortStableFunc(res, func(a, b domain.Document) int {
		if sortErr != nil {
			return 0
		}
		for _, field := range opts.Sort {
			av, _ := opts.Navigator.Get(a, field.Field)
			bv, _ := opts.Navigator.Get(b, field.Field)
			c := opts.Comparer.Compare(av, bv)
			if c != 0 {
				if field.Order < 0 {
					return -c
				}
				return c
			}
		}
		return 0
	})
	return res, sortErr
}

// applyProjection implements the pick/omit rebuild described for Cursor
// execution: a projection's keys must be uniformly 1 (pick) or 0 (omit),
// except that "_id" may be excluded independently of that choice.
func applyProjection(docs []domain.Document, projection any, docFac domain.DocumentFactory, nav domain.FieldNavigator) ([]domain.Document, error) {
	proj, err := asProjectionMap(projection)
	if err != nil {
		return nil, err
	}
	if len(proj) == 0 {
		return docs, nil
	}

	pick, hasNonID, err := classifyProjection(proj)
	if err != nil {
		return nil, err
	}
	idDir, idMentioned := proj["_id"]
	keepID := !idMentioned || idDir != 0

	res := make([]domain.Document, len(docs))
	for i, doc := range docs {
		var out domain.Document
		switch {
		case !hasNonID:
			out = doc.Clone()
		case pick:
			out, err = docFac(nil)
			if err != nil {
				return nil, err
			}
			for path, dir := range proj {
				if path == "_id" || dir == 0 {
					continue
				}
				v, ok := nav.Get(doc, path)
				if !ok || domain.IsUndef(v) {
					continue
				}
				if err := nav.Set(out, path, v); err != nil {
					return nil, err
				}
			}
		default:
			out = doc.Clone()
			for path, dir := range proj {
				if path == "_id" || dir != 0 {
					continue
				}
				if err := nav.Unset(out, path); err != nil {
					return nil, err
				}
			}
		}
		if keepID {
			if id, ok := doc.Get("_id"); ok {
				out.Set("_id", id)
			}
		} else {
			out.Unset("_id")
		}
		res[i] = out
	}
	return res, nil
}

func asProjectionMap(projection any) (map[string]int, error) {
	switch p := projection.(type) {
	case nil:
		return nil, nil
	case map[string]int:
		return p, nil
	case domain.Document:
		out := make(map[string]int, p.Len())
		for k, v := range p.Iter() {
			n, ok := asInt(v)
			if !ok {
				return nil, fmt.Errorf("%w: projection value for %q must be 0 or 1", domain.ErrInvalidOptions, k)
			}
			out[k] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported projection type %T", domain.ErrInvalidOptions, projection)
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func classifyProjection(proj map[string]int) (pick bool, hasNonID bool, err error) {
	seenPick, seenOmit := false, false
	for k, v := range proj {
		if k == "_id" {
			continue
		}
		hasNonID = true
		if v == 0 {
			seenOmit = true
		} else {
			seenPick = true
		}
	}
	if seenPick && seenOmit {
		return false, hasNonID, domain.ErrProjectionConflict
	}
	return seenPick, hasNonID, nil
}

// Next implements [domain.Cursor].
func (c *Cursor) Next() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.data) == 0 {
		return false
	}
	if c.started {
		c.data = c.data[1:]
	}
	c.started = true
	return len(c.data) > 0
}

// Decode implements [domain.Cursor].
func (c *Cursor) Decode(target any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storedErr != nil {
		return c.storedErr
	}
	if !c.started {
		return domain.ErrScanBeforeNext
	}
	if len(c.data) == 0 {
		return domain.ErrNotFound
	}
	return c.decoder.Decode(c.data[0], target)
}

// Scan implements [domain.Cursor]: it drains every remaining result
// (including the one Next last advanced to, if any) into target, which
// must be a pointer to a slice.
func (c *Cursor) Scan(ctx context.Context, target any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if c.storedErr != nil {
		return c.storedErr
	}

	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("%w: Scan target must be a pointer to a slice", domain.ErrTargetNil)
	}
	sliceVal := rv.Elem()
	elemType := sliceVal.Type().Elem()

	for _, doc := range c.data {
		elem := reflect.New(elemType)
		if err := c.decoder.Decode(doc, elem.Interface()); err != nil {
			return err
		}
		sliceVal.Set(reflect.Append(sliceVal, elem.Elem()))
	}
	c.data = nil
	c.started = true
	return nil
}

// Err implements [domain.Cursor].
func (c *Cursor) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storedErr
}

// Close implements [domain.Cursor].
func (c *Cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.data) > 0 {
		c.storedErr = domain.ErrCursorClosed
	}
	c.data = nil
	return nil
}

// Count implements [domain.Cursor].
func (c *Cursor) Count() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storedErr != nil {
		return 0, c.storedErr
	}
	n := len(c.data)
	c.data = nil
	return n, nil
}

