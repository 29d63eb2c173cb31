// Package domain contains the interfaces and option types shared by every
// adapter in this module. Adapters depend on domain; domain depends on
// nothing else in the module.
package domain

import (
	"context"
	"io"
	"iter"
	"os"
	"time"
)

// Document represents a tree of keyed values: the unit of storage. A
// Document is read and mutated by at most one goroutine at a time and does
// not need to be concurrency safe on its own.
type Document interface {
	// ID returns the document's "_id" value and whether it is set.
	ID() (string, bool)
	// Get returns the value stored directly under key (no dot-path
	// resolution) and whether it is set.
	Get(key string) (any, bool)
	// Set stores value directly under key.
	Set(key string, value any)
	// Unset removes key, if present.
	Unset(key string)
	// Iter returns an unordered sequence of the document's key/value pairs.
	Iter() iter.Seq2[string, any]
	// Keys returns an unordered sequence of the document's keys.
	Keys() iter.Seq[string]
	// Values returns an unordered sequence of the document's values.
	Values() iter.Seq[any]
	// Has reports whether key is set.
	Has(key string) bool
	// Len returns the number of top-level keys.
	Len() int
	// Clone returns a deep copy.
	Clone() Document
}

// DocumentFactory constructs a [Document] from a struct, map, pointer to
// either, or an existing Document. A nil input yields an empty document.
type DocumentFactory func(any) (Document, error)

// FieldNavigator resolves dot-paths against a [Document], including the
// array fan-out rules: a purely numeric path segment indexes into an array,
// a non-numeric segment projects over every element.
type FieldNavigator interface {
	// Get resolves path against doc. ok is false if the path cannot be
	// resolved at all (e.g. indexing into a non-array, or a completely
	// missing branch).
	Get(doc any, path string) (value any, ok bool)
	// Set assigns value at path, creating intermediate maps as needed.
	Set(doc Document, path string, value any) error
	// Unset removes the value at path, if present.
	Unset(doc Document, path string) error
	// SplitPath splits a dot-path string into its segments.
	SplitPath(path string) []string
}

// Comparer implements the total order and equality rules over heterogeneous
// document values described by the data model: undefined < null < number <
// string < boolean < date < array < object.
type Comparer interface {
	// Compare returns -1, 0 or 1 for the ordering relation between a and b.
	Compare(a, b any) int
	// Equal implements "thingsEqual": stricter than Compare == 0 (undefined
	// is never equal to anything, arrays never equal non-arrays).
	Equal(a, b any) bool
}

// Matcher evaluates the predicate language against a document. val is
// usually a Document, but $elemMatch against an array of scalars calls back
// in with a bare value, so the method accepts any.
type Matcher interface {
	// Match reports whether val satisfies query.
	Match(val any, query any) (bool, error)
}

// Modifier applies the update-modifier language to a document, returning a
// new document (the input is never mutated in place).
type Modifier interface {
	// Modify returns the result of applying update to doc.
	Modify(doc Document, update any) (Document, error)
}

// IDGenerator produces collision-resistant alphanumeric identifiers.
type IDGenerator interface {
	GenerateID(length int) (string, error)
}

// Hasher produces a hash for an arbitrary document value, used to bucket
// values that may not be Go-comparable (slices, maps).
type Hasher interface {
	Hash(v any) (uint64, error)
}

// TimeGetter supplies the current time, injected so tests can control it.
type TimeGetter interface {
	Now() time.Time
}

// Index is the ordered, AVL-backed index contract from the data model. A
// PrimaryIndex additionally implements this interface, but its
// GetBetweenBounds always returns [ErrBetweenBoundsUnsupported].
type Index interface {
	FieldName() []string
	Unique() bool
	Sparse() bool
	ExpireAfter() (time.Duration, bool)

	Reset(ctx context.Context, docs ...Document) error
	Insert(ctx context.Context, docs ...Document) error
	Remove(ctx context.Context, docs ...Document) error
	Update(ctx context.Context, oldDoc, newDoc Document) error
	UpdateMultipleDocs(ctx context.Context, pairs []Update) error
	RevertUpdate(ctx context.Context, oldDoc, newDoc Document) error
	RevertMultipleUpdates(ctx context.Context, pairs []Update) error

	GetMatching(ctx context.Context, value any) ([]Document, error)
	GetBetweenBounds(ctx context.Context, bounds Bounds) ([]Document, error)
	GetAll() []Document
	GetNumberOfKeys() int
}

// Bounds describes a range query against an ordered [Index].
type Bounds struct {
	GT, GTE, LT, LTE any
}

// Update pairs an index entry's old and new document, used for vectorized
// index updates with all-or-nothing rollback.
type Update struct {
	OldDoc, NewDoc Document
}

// IndexFactory constructs an [Index] from options.
type IndexFactory func(...IndexOption) (Index, error)

// Storage is the filesystem capability the persistence layer depends on. It
// never interprets the bytes it is given.
type Storage interface {
	AppendFile(ctx context.Context, path string, mode os.FileMode, data []byte) error
	Exists(path string) (bool, error)
	EnsureParentDirectoryExists(path string, mode os.FileMode) error
	EnsureDatafileIntegrity(path string, mode os.FileMode) error
	CrashSafeWriteFileLines(ctx context.Context, path string, lines [][]byte, fileMode, dirMode os.FileMode) error
	ReadFileStream(path string, mode os.FileMode) (io.ReadCloser, error)
	Remove(path string) error
}

// Serializer converts a [Document] (or index DTO) into a single persisted
// log line.
type Serializer interface {
	Serialize(ctx context.Context, v any) ([]byte, error)
}

// Deserializer converts a single persisted log line back into a target
// value (a Document or an IndexDTO).
type Deserializer interface {
	Deserialize(ctx context.Context, line []byte, target any) error
}

// Decoder decodes a matched [Document] into a caller-supplied struct or map.
type Decoder interface {
	Decode(doc Document, target any) error
}

// Persistence owns the append-only log: appends, crash-safe compaction, and
// bootstrap-by-replay.
type Persistence interface {
	LoadDatabase(ctx context.Context) ([]Document, map[string]IndexDTO, error)
	PersistNewState(ctx context.Context, docs ...Document) error
	PersistCachedDatabase(ctx context.Context, allData []Document, indexes map[string]IndexDTO) error
	DropDatabase(ctx context.Context) error
	WaitCompaction(ctx context.Context) error
	SetCorruptAlertThreshold(v float64)
}

// CursorFactory constructs a [Cursor] over a result set.
type CursorFactory func(ctx context.Context, docs []Document, opts ...CursorOption) (Cursor, error)

// Cursor is a deferred query: predicate, sort, skip/limit and projection are
// applied only when the cursor is executed.
type Cursor interface {
	// Next advances to the next result, returning false when exhausted or
	// on error (check Err).
	Next() bool
	// Decode decodes the current result into target.
	Decode(target any) error
	// Scan drains every remaining result into target, which must be a
	// pointer to a slice.
	Scan(ctx context.Context, target any) error
	// Err returns the first error encountered during iteration.
	Err() error
	// Close releases cursor resources.
	Close() error
	// Count returns the number of results, consuming the cursor.
	Count() (int, error)
}

// Executor serializes mutating operations against a [Collection]. Until the
// collection finishes loading (an in-memory-only one included), Executor
// buffers tasks instead of running them; ProcessBuffer replays the buffer in
// order.
type Executor interface {
	// Bufferize switches the executor into buffering mode.
	Bufferize()
	// Push runs task, queued behind any task already running. If
	// forceQueuing is false and the executor is still buffering, the task
	// is appended to the buffer instead of running immediately.
	Push(ctx context.Context, task func(context.Context), forceQueuing bool) error
	// ProcessBuffer drains the buffer, in order, into the run queue, then
	// switches to running mode.
	ProcessBuffer()
	// ResetBuffer cancels every task currently queued or buffered.
	ResetBuffer()
}
