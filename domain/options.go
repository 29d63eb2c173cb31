package domain

import "time"

// Sort is an ordered list of (field, direction) pairs applied in sequence.
type Sort []SortField

// SortField names a field and its sort direction: positive Order means
// ascending, negative means descending.
type SortField struct {
	Field string
	Order int
}

// FindOptions customizes Find/FindOne/Count execution.
type FindOptions struct {
	Projection any
	Skip       int64
	Limit      int64
	Sort       Sort
}

// FindOption configures a [FindOptions] value.
type FindOption func(*FindOptions)

func WithProjection(p any) FindOption    { return func(o *FindOptions) { o.Projection = p } }
func WithSkip(n int64) FindOption        { return func(o *FindOptions) { o.Skip = n } }
func WithLimit(n int64) FindOption       { return func(o *FindOptions) { o.Limit = n } }
func WithSort(s Sort) FindOption         { return func(o *FindOptions) { o.Sort = s } }

// UpdateOptions customizes Update execution.
type UpdateOptions struct {
	Multi             bool
	Upsert            bool
	ReturnUpdatedDocs bool
}

// UpdateOption configures an [UpdateOptions] value.
type UpdateOption func(*UpdateOptions)

func WithUpdateMulti(m bool) UpdateOption             { return func(o *UpdateOptions) { o.Multi = m } }
func WithUpsert(u bool) UpdateOption                  { return func(o *UpdateOptions) { o.Upsert = u } }
func WithReturnUpdatedDocs(r bool) UpdateOption       { return func(o *UpdateOptions) { o.ReturnUpdatedDocs = r } }

// RemoveOptions customizes Remove execution.
type RemoveOptions struct {
	Multi bool
}

// RemoveOption configures a [RemoveOptions] value.
type RemoveOption func(*RemoveOptions)

func WithRemoveMulti(m bool) RemoveOption { return func(o *RemoveOptions) { o.Multi = m } }

// EnsureIndexOptions customizes index creation.
type EnsureIndexOptions struct {
	FieldNames  []string
	Unique      bool
	Sparse      bool
	ExpireAfter time.Duration
	HasExpiry   bool
}

// EnsureIndexOption configures an [EnsureIndexOptions] value.
type EnsureIndexOption func(*EnsureIndexOptions)

func WithFields(fieldNames ...string) EnsureIndexOption {
	return func(o *EnsureIndexOptions) { o.FieldNames = fieldNames }
}
func WithUnique(u bool) EnsureIndexOption { return func(o *EnsureIndexOptions) { o.Unique = u } }
func WithSparse(s bool) EnsureIndexOption { return func(o *EnsureIndexOptions) { o.Sparse = s } }
func WithTTL(d time.Duration) EnsureIndexOption {
	return func(o *EnsureIndexOptions) { o.ExpireAfter = d; o.HasExpiry = true }
}

// IndexOptions configures a single [Index] instance.
type IndexOptions struct {
	FieldNames     []string
	Unique         bool
	Sparse         bool
	ExpireAfter    time.Duration
	HasExpiry      bool
	Comparer       Comparer
	FieldNavigator FieldNavigator
}

// IndexOption configures an [IndexOptions] value.
type IndexOption func(*IndexOptions)

func WithIndexFieldNames(f ...string) IndexOption {
	return func(o *IndexOptions) { o.FieldNames = f }
}
func WithIndexUnique(u bool) IndexOption { return func(o *IndexOptions) { o.Unique = u } }
func WithIndexSparse(s bool) IndexOption { return func(o *IndexOptions) { o.Sparse = s } }
func WithIndexExpireAfter(d time.Duration) IndexOption {
	return func(o *IndexOptions) { o.ExpireAfter = d; o.HasExpiry = true }
}
func WithIndexComparer(c Comparer) IndexOption {
	return func(o *IndexOptions) { o.Comparer = c }
}
func WithIndexFieldNavigator(f FieldNavigator) IndexOption {
	return func(o *IndexOptions) { o.FieldNavigator = f }
}

// CursorOptions configures a [Cursor] instance.
type CursorOptions struct {
	Query      any
	Matcher    Matcher
	Comparer   Comparer
	Navigator  FieldNavigator
	Decoder    Decoder
	Sort       Sort
	Skip       int64
	Limit      int64
	Projection any
	// CountOnly short-circuits execution to only count matches (Count mode).
	CountOnly bool
}

// CursorOption configures a [CursorOptions] value.
type CursorOption func(*CursorOptions)

func WithCursorQuery(q any) CursorOption       { return func(o *CursorOptions) { o.Query = q } }
func WithCursorMatcher(m Matcher) CursorOption { return func(o *CursorOptions) { o.Matcher = m } }
func WithCursorComparer(c Comparer) CursorOption {
	return func(o *CursorOptions) { o.Comparer = c }
}
func WithCursorFieldNavigator(n FieldNavigator) CursorOption {
	return func(o *CursorOptions) { o.Navigator = n }
}
func WithCursorDecoder(d Decoder) CursorOption { return func(o *CursorOptions) { o.Decoder = d } }
func WithCursorSort(s Sort) CursorOption       { return func(o *CursorOptions) { o.Sort = s } }
func WithCursorSkip(n int64) CursorOption      { return func(o *CursorOptions) { o.Skip = n } }
func WithCursorLimit(n int64) CursorOption     { return func(o *CursorOptions) { o.Limit = n } }
func WithCursorProjection(p any) CursorOption  { return func(o *CursorOptions) { o.Projection = p } }
func WithCursorCountOnly(c bool) CursorOption  { return func(o *CursorOptions) { o.CountOnly = c } }
