// Package satchel implements an embedded, single-file, append-only document
// store: a MongoDB-flavored query and update language over an ordered,
// AVL-backed index on top of a crash-safe append-only log, all serialized
// through a single-consumer executor so reads and writes issued while the
// log is still replaying queue up instead of racing it.
package satchel

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"satchel/adapter/comparer"
	"satchel/adapter/cursor"
	"satchel/adapter/document"
	"satchel/adapter/executor"
	"satchel/adapter/fieldnavigator"
	"satchel/adapter/hasher"
	"satchel/adapter/idgen"
	"satchel/adapter/index"
	"satchel/adapter/matcher"
	"satchel/adapter/modifier"
	"satchel/adapter/persistence"
	"satchel/adapter/timegetter"
	"satchel/domain"
	"satchel/pkg/ctxsync"
)

// minAutocompactInterval is the floor [Collection.SetAutocompactionInterval]
// enforces: a shorter interval would let compaction starve every other
// executor task of its turn.
const minAutocompactInterval = 5 * time.Second

// Collection is an embedded document store backed by a single append-only
// datafile (or held purely in memory). Every exported method is safe to
// call concurrently: mutating calls are serialized through an internal
// [domain.Executor], and reads resolve against a point-in-time snapshot of
// the matching index.
type Collection struct {
	filename              string
	timestampData         bool
	inMemoryOnly          bool
	corruptAlertThreshold float64
	fileMode              os.FileMode
	dirMode               os.FileMode

	afterSerialization persistence.SerializationHook
	beforeDeserialize  persistence.SerializationHook

	executor    domain.Executor
	persistence domain.Persistence

	indexes    map[string]domain.Index
	ttlIndexes map[string]time.Duration

	indexFactory    domain.IndexFactory
	documentFactory domain.DocumentFactory
	cursorFactory   domain.CursorFactory
	comparer        domain.Comparer
	matcher         domain.Matcher
	modifier        domain.Modifier
	timeGetter      domain.TimeGetter
	idGenerator     domain.IDGenerator
	fieldNavigator  domain.FieldNavigator
	hasher          domain.Hasher

	autocompactMu   sync.Mutex
	autocompactStop chan struct{}
	autocompactWG   *ctxsync.WaitGroup
}

// New constructs a [Collection] and returns it without loading it. Callers
// of a persistent collection must call [Collection.LoadDatabase] before
// issuing any other call. An in-memory-only collection has no datafile to
// replay, but LoadDatabase must still be called once to release the executor
// from its initial buffering mode; until then every other call blocks.
func New(opts ...Option) (*Collection, error) {
	docFac := document.New
	comp := comparer.NewComparer()
	nav := fieldnavigator.New(docFac)

	c := &Collection{
		corruptAlertThreshold: persistence.DefaultCorruptAlertThreshold,
		fileMode:              persistence.DefaultFileMode,
		dirMode:               persistence.DefaultDirMode,
		executor:              executor.New(),
		indexes:               make(map[string]domain.Index),
		ttlIndexes:            make(map[string]time.Duration),
		indexFactory:          index.New,
		documentFactory:       docFac,
		cursorFactory:         cursor.New,
		comparer:              comp,
		matcher:               matcher.New(matcher.WithDocumentFactory(docFac), matcher.WithComparer(comp), matcher.WithFieldNavigator(nav)),
		modifier:              modifier.New(modifier.WithDocumentFactory(docFac), modifier.WithComparer(comp), modifier.WithFieldNavigator(nav)),
		timeGetter:            timegetter.New(),
		idGenerator:           idgen.New(),
		fieldNavigator:        nav,
		hasher:                hasher.NewHasher(),
		autocompactWG:         ctxsync.NewWaitGroup(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.inMemoryOnly = c.inMemoryOnly || c.filename == ""
	c.indexes["_id"] = index.NewPrimary(c.hasher)

	if c.persistence == nil {
		p, err := persistence.New(
			persistence.WithFilename(c.filename),
			persistence.WithInMemoryOnly(c.inMemoryOnly),
			persistence.WithCorruptAlertThreshold(c.corruptAlertThreshold),
			persistence.WithFileMode(c.fileMode),
			persistence.WithDirMode(c.dirMode),
			persistence.WithComparer(c.comparer),
			persistence.WithDocumentFactory(c.documentFactory),
			persistence.WithSerializationHooks(c.afterSerialization, c.beforeDeserialize),
		)
		if err != nil {
			return nil, err
		}
		c.persistence = p
	}

	return c, nil
}

// LoadDatabase replays the datafile (a no-op for an in-memory-only
// collection), rebuilds every secondary index from the records it finds,
// and releases the executor's startup buffer. Every task issued against the
// collection before this call returns runs in the order it was issued, once
// this call completes.
func (c *Collection) LoadDatabase(ctx context.Context) error {
	var err error
	pushErr := c.executor.Push(ctx, func(ctx context.Context) {
		err = c.loadDatabase(ctx)
	}, true)
	c.executor.ProcessBuffer()
	if pushErr != nil {
		return pushErr
	}
	return err
}

func (c *Collection) loadDatabase(ctx context.Context) error {
	docs, indexDTOs, err := c.persistence.LoadDatabase(ctx)
	if err != nil {
		return err
	}

	c.ttlIndexes = make(map[string]time.Duration)
	for key, dto := range indexDTOs {
		if dto.Created == nil {
			continue
		}
		idx, err := c.buildIndex(dto.Created)
		if err != nil {
			return err
		}
		c.indexes[key] = idx
		if dto.Created.HasExpiry && len(dto.Created.FieldNames) == 1 {
			c.ttlIndexes[dto.Created.FieldNames[0]] = time.Duration(dto.Created.ExpireAfter * float64(time.Second))
		}
	}

	if err := c.resetIndexes(ctx, docs...); err != nil {
		if resetErr := c.resetIndexes(ctx); resetErr != nil {
			return fmt.Errorf("%w (and failed to reset to empty: %v)", err, resetErr)
		}
		return err
	}
	return c.persistence.PersistCachedDatabase(ctx, c.getAllData(), c.getIndexDTOs())
}

func (c *Collection) buildIndex(ic *domain.IndexCreated) (domain.Index, error) {
	opts := []domain.IndexOption{
		domain.WithIndexFieldNames(ic.FieldNames...),
		domain.WithIndexUnique(ic.Unique),
		domain.WithIndexSparse(ic.Sparse),
		domain.WithIndexComparer(c.comparer),
		domain.WithIndexFieldNavigator(c.fieldNavigator),
	}
	if ic.HasExpiry {
		opts = append(opts, domain.WithIndexExpireAfter(time.Duration(ic.ExpireAfter*float64(time.Second))))
	}
	return c.indexFactory(opts...)
}

func (c *Collection) resetIndexes(ctx context.Context, docs ...domain.Document) error {
	for _, idx := range c.indexes {
		if err := idx.Reset(ctx, docs...); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) getAllData() []domain.Document {
	return c.indexes["_id"].GetAll()
}

func (c *Collection) getIndexDTOs() map[string]domain.IndexDTO {
	dtos := make(map[string]domain.IndexDTO, len(c.indexes))
	for key, idx := range c.indexes {
		if key == "_id" {
			continue
		}
		expireAfter, hasExpiry := idx.ExpireAfter()
		dto := domain.IndexDTO{Created: &domain.IndexCreated{
			FieldNames: idx.FieldName(),
			Unique:     idx.Unique(),
			Sparse:     idx.Sparse(),
			HasExpiry:  hasExpiry,
		}}
		if hasExpiry {
			dto.Created.ExpireAfter = expireAfter.Seconds()
		}
		dtos[key] = dto
	}
	return dtos
}

// DropDatabase deletes the datafile (if any) and resets the collection back
// to empty.
func (c *Collection) DropDatabase(ctx context.Context) error {
	var err error
	pushErr := c.executor.Push(ctx, func(ctx context.Context) {
		err = c.dropDatabase(ctx)
	}, false)
	if pushErr != nil {
		return pushErr
	}
	return err
}

func (c *Collection) dropDatabase(ctx context.Context) error {
	if err := c.persistence.DropDatabase(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	c.indexes = map[string]domain.Index{"_id": index.NewPrimary(c.hasher)}
	c.ttlIndexes = make(map[string]time.Duration)
	return nil
}

// CompactDatafile forces an immediate whole-file rewrite, collapsing every
// tombstone and index-creation record accumulated since the last
// compaction. A no-op for an in-memory-only collection.
func (c *Collection) CompactDatafile(ctx context.Context) error {
	var err error
	pushErr := c.executor.Push(ctx, func(ctx context.Context) {
		err = c.persistence.PersistCachedDatabase(ctx, c.getAllData(), c.getIndexDTOs())
	}, false)
	if pushErr != nil {
		return pushErr
	}
	return err
}

// WaitCompaction blocks until the next whole-file compaction completes, or
// ctx is done. It bypasses the executor: a caller blocked here does not hold
// up any other operation.
func (c *Collection) WaitCompaction(ctx context.Context) error {
	return c.persistence.WaitCompaction(ctx)
}

// SetAutocompactionInterval starts a background goroutine that calls
// CompactDatafile every interval, replacing any autocompaction already
// running. interval is raised to minAutocompactInterval if it's shorter, so
// a mistaken sub-second interval can't starve every other operation of the
// executor. A no-op for an in-memory-only collection, since there is no
// datafile to rewrite.
//
// Do not call this, or [Collection.StopAutocompaction], from inside a
// callback running on this Collection's own executor (there is no such
// callback in this package's public API, but a caller composing one via
// [WithIndexFactory]-style injection should take note): StopAutocompaction
// waits for an in-flight CompactDatafile call to finish, and that call
// itself waits for the same executor slot the caller would already be
// holding.
func (c *Collection) SetAutocompactionInterval(interval time.Duration) {
	if interval < minAutocompactInterval {
		interval = minAutocompactInterval
	}
	c.StopAutocompaction()
	if c.inMemoryOnly {
		return
	}

	stop := make(chan struct{})
	c.autocompactMu.Lock()
	c.autocompactStop = stop
	c.autocompactMu.Unlock()

	c.autocompactWG.Add(1)
	go c.runAutocompaction(interval, stop)
}

func (c *Collection) runAutocompaction(interval time.Duration, stop chan struct{}) {
	defer c.autocompactWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = c.CompactDatafile(context.Background())
		}
	}
}

// StopAutocompaction stops any autocompaction goroutine started by
// [Collection.SetAutocompactionInterval] and blocks until its current tick,
// if one is in flight, finishes. A no-op if autocompaction isn't running.
func (c *Collection) StopAutocompaction() {
	c.autocompactMu.Lock()
	stop := c.autocompactStop
	c.autocompactStop = nil
	c.autocompactMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	c.autocompactWG.Wait()
}

// GetAllData returns a clone of every live document in the collection, in
// no particular order.
func (c *Collection) GetAllData(ctx context.Context) ([]domain.Document, error) {
	var res []domain.Document
	pushErr := c.executor.Push(ctx, func(ctx context.Context) {
		res = cloneDocs(c.getAllData())
	}, false)
	return res, pushErr
}

func cloneDocs(docs []domain.Document) []domain.Document {
	out := make([]domain.Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}

func splitIndexKey(key string) []string {
	return strings.Split(key, ",")
}
