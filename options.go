package satchel

import (
	"os"
	"time"

	"satchel/adapter/persistence"
	"satchel/domain"
)

// DefaultDirMode is the permission bits used for a datafile's parent
// directory when it doesn't already exist.
const DefaultDirMode = persistence.DefaultDirMode

// DefaultFileMode is the permission bits used for a new datafile.
const DefaultFileMode = persistence.DefaultFileMode

// DefaultCorruptAlertThreshold is the fraction of unparseable lines a
// datafile can carry before LoadDatabase refuses to load it.
const DefaultCorruptAlertThreshold = persistence.DefaultCorruptAlertThreshold

// defaultIDLength is how many characters a generated "_id" carries.
const defaultIDLength = 16

// SerializationHook transforms a persisted line's raw bytes on the way in
// or out of the datafile. See [WithSerializationHooks].
type SerializationHook = persistence.SerializationHook

// Option configures a [Collection].
type Option func(*Collection)

// WithFilename sets the datafile path. An empty filename (the default)
// selects in-memory-only mode regardless of [WithInMemoryOnly].
func WithFilename(f string) Option { return func(c *Collection) { c.filename = f } }

// WithTimestamps enables automatic "createdAt"/"updatedAt" timestamping of
// inserted and updated documents.
func WithTimestamps(t bool) Option { return func(c *Collection) { c.timestampData = t } }

// WithInMemoryOnly forces in-memory-only mode even if a filename is set.
func WithInMemoryOnly(v bool) Option { return func(c *Collection) { c.inMemoryOnly = v } }

// WithCorruptAlertThreshold overrides the default 10% corruption tolerance
// applied while replaying the datafile.
func WithCorruptAlertThreshold(v float64) Option {
	return func(c *Collection) { c.corruptAlertThreshold = v }
}

// WithFileMode overrides the datafile's permission bits.
func WithFileMode(m os.FileMode) Option { return func(c *Collection) { c.fileMode = m } }

// WithDirMode overrides the parent directory's permission bits.
func WithDirMode(m os.FileMode) Option { return func(c *Collection) { c.dirMode = m } }

// WithPersistence overrides the persistence layer entirely. When set, every
// other persistence-related option (filename, corruption threshold,
// serialization hooks, file/dir mode) is ignored.
func WithPersistence(p domain.Persistence) Option { return func(c *Collection) { c.persistence = p } }

// WithSerializationHooks installs a bijective pair of hooks applied to a
// persisted line's raw bytes, forwarded to the persistence layer unless
// [WithPersistence] overrides it. New rejects a pair that doesn't
// round-trip.
func WithSerializationHooks(after, before SerializationHook) Option {
	return func(c *Collection) { c.afterSerialization, c.beforeDeserialize = after, before }
}

// WithIndexFactory overrides the factory used to construct every [domain.Index].
func WithIndexFactory(f domain.IndexFactory) Option { return func(c *Collection) { c.indexFactory = f } }

// WithDocumentFactory overrides the function used to build [domain.Document]
// values out of user-supplied structs and maps.
func WithDocumentFactory(f domain.DocumentFactory) Option {
	return func(c *Collection) { c.documentFactory = f }
}

// WithCursorFactory overrides the function used to build result [domain.Cursor]s.
func WithCursorFactory(f domain.CursorFactory) Option {
	return func(c *Collection) { c.cursorFactory = f }
}

// WithMatcher overrides the predicate matcher used by Find/Update/Remove.
func WithMatcher(m domain.Matcher) Option { return func(c *Collection) { c.matcher = m } }

// WithModifier overrides the update-modifier applier used by Update.
func WithModifier(m domain.Modifier) Option { return func(c *Collection) { c.modifier = m } }

// WithComparer overrides the comparer used for ordering and equality.
func WithComparer(cmp domain.Comparer) Option { return func(c *Collection) { c.comparer = cmp } }

// WithTimeGetter overrides the clock used for timestamps and TTL expiry.
func WithTimeGetter(t domain.TimeGetter) Option { return func(c *Collection) { c.timeGetter = t } }

// WithIDGenerator overrides the generator used to mint new "_id" values.
func WithIDGenerator(g domain.IDGenerator) Option { return func(c *Collection) { c.idGenerator = g } }

// WithFieldNavigator overrides the dot-path resolver used throughout query
// and TTL evaluation.
func WithFieldNavigator(n domain.FieldNavigator) Option {
	return func(c *Collection) { c.fieldNavigator = n }
}

// WithHasher overrides the hash function backing the primary "_id" index's
// buckets.
func WithHasher(h domain.Hasher) Option { return func(c *Collection) { c.hasher = h } }

// FindOption configures Find/FindOne/Count execution.
type FindOption = domain.FindOption

// WithProjection specifies which fields to include or exclude from query
// results.
func WithProjection(p any) FindOption { return domain.WithProjection(p) }

// WithSkip sets the number of matching documents to skip.
func WithSkip(n int64) FindOption { return domain.WithSkip(n) }

// WithLimit caps the number of documents returned.
func WithLimit(n int64) FindOption { return domain.WithLimit(n) }

// WithSort orders results by the given fields, applied in sequence.
func WithSort(s domain.Sort) FindOption { return domain.WithSort(s) }

// Sort is an ordered list of (field, direction) pairs.
type Sort = domain.Sort

// SortField names a field and its sort direction.
type SortField = domain.SortField

// UpdateOption configures Update execution.
type UpdateOption = domain.UpdateOption

// WithUpdateMulti allows Update to modify more than one matching document.
func WithUpdateMulti(m bool) UpdateOption { return domain.WithUpdateMulti(m) }

// WithUpsert inserts a document derived from the query and update when no
// document matches.
func WithUpsert(u bool) UpdateOption { return domain.WithUpsert(u) }

// RemoveOption configures Remove execution.
type RemoveOption = domain.RemoveOption

// WithRemoveMulti allows Remove to delete more than one matching document.
func WithRemoveMulti(m bool) RemoveOption { return domain.WithRemoveMulti(m) }

// EnsureIndexOption configures index creation.
type EnsureIndexOption = domain.EnsureIndexOption

// WithFields names the field(s) the index is built over. A single name
// creates a simple index; more than one creates a compound index ordered by
// the tuple of per-field values, taken in sorted field-name order (the order
// the names are given in does not matter).
func WithFields(fieldNames ...string) EnsureIndexOption { return domain.WithFields(fieldNames...) }

// WithUnique rejects inserts/updates that would produce a duplicate index
// key.
func WithUnique(u bool) EnsureIndexOption { return domain.WithUnique(u) }

// WithSparse excludes documents with no value at the index's field(s)
// entirely, rather than indexing them under an undefined key.
func WithSparse(s bool) EnsureIndexOption { return domain.WithSparse(s) }

// WithTTL marks the index as a TTL index: documents whose indexed field
// holds a time.Time older than d are reaped the next time they would
// otherwise be returned as query candidates.
func WithTTL(d time.Duration) EnsureIndexOption { return domain.WithTTL(d) }
