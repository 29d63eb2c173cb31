// Package persistence implements [domain.Persistence]: the append-only log,
// its crash-safe whole-file compaction, and bootstrap-by-replay, composed
// from a [domain.Storage], [domain.Serializer] and [domain.Deserializer].
package persistence

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"satchel/adapter/comparer"
	"satchel/adapter/decoder"
	"satchel/adapter/deserializer"
	"satchel/adapter/document"
	"satchel/adapter/serializer"
	"satchel/adapter/storage"
	"satchel/domain"
	"satchel/pkg/ctxsync"
)

const (
	// DefaultDirMode is the permission bits used when creating the parent
	// directory of a datafile that doesn't exist yet.
	DefaultDirMode os.FileMode = 0o755
	// DefaultFileMode is the permission bits used for a new datafile.
	DefaultFileMode os.FileMode = 0o644
	// DefaultCorruptAlertThreshold is the fraction of unparseable lines a
	// datafile can carry before LoadDatabase refuses to load it.
	DefaultCorruptAlertThreshold = 0.1
	// hookProbeCount is how many random samples a before/afterSerialization
	// hook pair is round-tripped against before it is trusted.
	hookProbeCount = 8
)

// SerializationHook transforms a persisted line's raw bytes. afterSerialize
// runs on the way out, right before the bytes hit storage; beforeDeserialize
// runs on the way in, right after the bytes are read back. The two must be
// exact inverses of each other, which [New] verifies by round-tripping
// random samples through both before accepting them.
type SerializationHook func([]byte) ([]byte, error)

// Persistence implements [domain.Persistence].
type Persistence struct {
	inMemoryOnly          bool
	filename              string
	corruptAlertThreshold float64
	fileMode              os.FileMode
	dirMode               os.FileMode

	serializer      domain.Serializer
	deserializer    domain.Deserializer
	storage         domain.Storage
	comparer        domain.Comparer
	documentFactory domain.DocumentFactory

	afterSerialization SerializationHook
	beforeDeserialize  SerializationHook

	compactionDone *ctxsync.CompactionGate
}

// Option configures a [Persistence].
type Option func(*Persistence)

// WithFilename sets the datafile path. An empty filename (the default)
// selects in-memory-only mode regardless of WithInMemoryOnly.
func WithFilename(f string) Option { return func(p *Persistence) { p.filename = f } }

// WithInMemoryOnly forces in-memory-only mode even if a filename is set.
func WithInMemoryOnly(v bool) Option { return func(p *Persistence) { p.inMemoryOnly = v } }

// WithCorruptAlertThreshold overrides the default 10% corruption tolerance.
func WithCorruptAlertThreshold(v float64) Option {
	return func(p *Persistence) { p.corruptAlertThreshold = v }
}

// WithFileMode overrides the datafile's permission bits.
func WithFileMode(m os.FileMode) Option { return func(p *Persistence) { p.fileMode = m } }

// WithDirMode overrides the parent directory's permission bits.
func WithDirMode(m os.FileMode) Option { return func(p *Persistence) { p.dirMode = m } }

// WithSerializer overrides the serializer.
func WithSerializer(s domain.Serializer) Option { return func(p *Persistence) { p.serializer = s } }

// WithDeserializer overrides the deserializer.
func WithDeserializer(d domain.Deserializer) Option {
	return func(p *Persistence) { p.deserializer = d }
}

// WithStorage overrides the storage backend.
func WithStorage(s domain.Storage) Option { return func(p *Persistence) { p.storage = s } }

// WithComparer overrides the comparer used to test the "$$deleted" tombstone
// flag against true.
func WithComparer(c domain.Comparer) Option { return func(p *Persistence) { p.comparer = c } }

// WithDocumentFactory overrides the document factory used to build the
// documents replayed out of the log.
func WithDocumentFactory(f domain.DocumentFactory) Option {
	return func(p *Persistence) { p.documentFactory = f }
}

// WithSerializationHooks installs a bijective pair of hooks applied to a
// persisted line's raw bytes: after serializing on the way out, before
// deserializing on the way in (e.g. compression or encryption). New rejects
// a pair that doesn't round-trip.
func WithSerializationHooks(after, before SerializationHook) Option {
	return func(p *Persistence) {
		p.afterSerialization = after
		p.beforeDeserialize = before
	}
}

// New returns a new [domain.Persistence]. If the hooks installed via
// WithSerializationHooks don't round-trip a handful of random samples, New
// returns [domain.ErrHookNotBijective].
func New(opts ...Option) (domain.Persistence, error) {
	docFac := document.New
	comp := comparer.NewComparer()
	p := &Persistence{
		corruptAlertThreshold: DefaultCorruptAlertThreshold,
		fileMode:              DefaultFileMode,
		dirMode:               DefaultDirMode,
		serializer:            serializer.New(serializer.WithDocumentFactory(docFac)),
		deserializer:          deserializer.New(deserializer.WithDecoder(decoder.New())),
		storage:               storage.New(),
		comparer:              comp,
		documentFactory:       docFac,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.inMemoryOnly = p.inMemoryOnly || p.filename == ""

	if !p.inMemoryOnly && hasSuffix(p.filename, "~") {
		return nil, domain.ErrDatafileName
	}
	if p.afterSerialization != nil || p.beforeDeserialize != nil {
		if p.afterSerialization == nil || p.beforeDeserialize == nil {
			return nil, fmt.Errorf("%w: afterSerialization and beforeDeserialization must both be set", domain.ErrInvalidOptions)
		}
		if err := probeHookBijectivity(p.afterSerialization, p.beforeDeserialize); err != nil {
			return nil, err
		}
	}

	p.compactionDone = ctxsync.NewCompactionGate()
	return p, nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// probeHookBijectivity round-trips random byte strings through after then
// before, failing loudly if either hook errors or the result doesn't match.
func probeHookBijectivity(after, before SerializationHook) error {
	for i := 0; i < hookProbeCount; i++ {
		sample := make([]byte, 16+i)
		if _, err := rand.Read(sample); err != nil {
			return err
		}
		encoded, err := callSerializationHook(after, sample)
		if err != nil {
			return &domain.ErrHookNotBijective{Sample: base64.StdEncoding.EncodeToString(sample)}
		}
		decoded, err := callSerializationHook(before, encoded)
		if err != nil || !bytesEqual(decoded, sample) {
			return &domain.ErrHookNotBijective{Sample: base64.StdEncoding.EncodeToString(sample)}
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SetCorruptAlertThreshold implements [domain.Persistence].
func (p *Persistence) SetCorruptAlertThreshold(v float64) { p.corruptAlertThreshold = v }

// PersistNewState implements [domain.Persistence]: it appends one serialized
// line per document to the datafile. A no-op in in-memory-only mode.
func (p *Persistence) PersistNewState(ctx context.Context, docs ...domain.Document) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if p.inMemoryOnly || len(docs) == 0 {
		return nil
	}

	var buf []byte
	for _, doc := range docs {
		line, err := p.serialize(ctx, doc)
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return p.storage.AppendFile(ctx, p.filename, p.fileMode, buf)
}

func (p *Persistence) serialize(ctx context.Context, v any) ([]byte, error) {
	line, err := p.serializer.Serialize(ctx, v)
	if err != nil {
		return nil, err
	}
	if p.afterSerialization != nil {
		return callSerializationHook(p.afterSerialization, line)
	}
	return line, nil
}

func (p *Persistence) deserializeLine(ctx context.Context, line []byte, target any) error {
	if p.beforeDeserialize != nil {
		decoded, err := callSerializationHook(p.beforeDeserialize, line)
		if err != nil {
			return err
		}
		line = decoded
	}
	return p.deserializer.Deserialize(ctx, line, target)
}

// callSerializationHook invokes a caller-supplied [SerializationHook],
// recovering a panic into a plain error so a bad hook can't take the whole
// process down with it.
func callSerializationHook(hook SerializationHook, line []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: serialization hook panicked: %v", domain.ErrInvalidOptions, r)
		}
	}()
	return hook(line)
}

// treatRawStream replays every persisted line into a live document set and
// an index-DTO table, applying "$$deleted" tombstones and
// "$$indexCreated"/"$$indexRemoved" records as it goes.
func (p *Persistence) treatRawStream(ctx context.Context, reader *bufio.Scanner) ([]domain.Document, map[string]domain.IndexDTO, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	byID := make(map[string]domain.Document)
	order := make([]string, 0)
	indexes := make(map[string]domain.IndexDTO)

	var totalLines, corruptLines int
	for reader.Scan() {
		line := reader.Bytes()
		if len(line) == 0 {
			continue
		}
		totalLines++

		var m map[string]any
		if err := p.deserializeLine(ctx, line, &m); err != nil {
			corruptLines++
			continue
		}
		doc, err := p.documentFactory(m)
		if err != nil {
			corruptLines++
			continue
		}

		if id, ok := doc.ID(); ok {
			if deleted, _ := doc.Get("$$deleted"); p.comparer.Equal(deleted, true) {
				delete(byID, id)
			} else {
				if _, existed := byID[id]; !existed {
					order = append(order, id)
				}
				byID[id] = doc
			}
			continue
		}
		if dto, ok := p.decodeIndexDTO(doc); ok {
			switch {
			case dto.Created != nil:
				indexes[domain.IndexKey(dto.Created.FieldNames)] = dto
			case dto.RemovedField != "":
				delete(indexes, dto.RemovedField)
			}
			continue
		}
		corruptLines++
	}
	if err := reader.Err(); err != nil {
		return nil, nil, err
	}

	if totalLines > 0 {
		rate := float64(corruptLines) / float64(totalLines)
		if rate > p.corruptAlertThreshold {
			return nil, nil, &domain.ErrCorruptFiles{
				CorruptionRate:        rate,
				CorruptLines:          corruptLines,
				TotalLines:            totalLines,
				CorruptAlertThreshold: p.corruptAlertThreshold,
			}
		}
	}

	docs := make([]domain.Document, 0, len(order))
	for _, id := range order {
		if doc, ok := byID[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, indexes, nil
}

func (p *Persistence) decodeIndexDTO(doc domain.Document) (domain.IndexDTO, bool) {
	created, hasCreated := doc.Get("$$indexCreated")
	removed, hasRemoved := doc.Get("$$indexRemoved")
	if !hasCreated && !hasRemoved {
		return domain.IndexDTO{}, false
	}
	dto := domain.IndexDTO{}
	if hasCreated {
		createdDoc, ok := created.(domain.Document)
		if !ok {
			return domain.IndexDTO{}, false
		}
		ic := &domain.IndexCreated{}
		if fieldNames, ok := createdDoc.Get("fieldNames"); ok {
			ic.FieldNames = toStringSlice(fieldNames)
		}
		if unique, ok := createdDoc.Get("unique"); ok {
			ic.Unique, _ = unique.(bool)
		}
		if sparse, ok := createdDoc.Get("sparse"); ok {
			ic.Sparse, _ = sparse.(bool)
		}
		if expire, ok := createdDoc.Get("expireAfterSeconds"); ok {
			ic.ExpireAfter, _ = toFloat(expire)
			ic.HasExpiry = true
		}
		dto.Created = ic
		return dto, true
	}
	if s, ok := removed.(string); ok {
		dto.RemovedField = s
		return dto, true
	}
	return domain.IndexDTO{}, false
}

func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// LoadDatabase implements [domain.Persistence]: it ensures the datafile is
// present and intact, replays it, then immediately compacts so a datafile
// with a long tombstone tail doesn't keep growing on every subsequent load.
func (p *Persistence) LoadDatabase(ctx context.Context) ([]domain.Document, map[string]domain.IndexDTO, error) {
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}
	if p.inMemoryOnly {
		return nil, nil, nil
	}

	if err := p.storage.EnsureParentDirectoryExists(p.filename, p.dirMode); err != nil {
		return nil, nil, err
	}
	if err := p.storage.EnsureDatafileIntegrity(p.filename, p.fileMode); err != nil {
		return nil, nil, err
	}

	stream, err := p.storage.ReadFileStream(p.filename, p.fileMode)
	if err != nil {
		return nil, nil, err
	}
	defer stream.Close()

	docs, indexes, err := p.treatRawStream(ctx, bufio.NewScanner(stream))
	if err != nil {
		return nil, nil, err
	}

	if err := p.PersistCachedDatabase(ctx, docs, indexes); err != nil {
		return nil, nil, err
	}
	return docs, indexes, nil
}

// DropDatabase implements [domain.Persistence].
func (p *Persistence) DropDatabase(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if p.inMemoryOnly {
		return nil
	}
	exists, err := p.storage.Exists(p.filename)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return p.storage.Remove(p.filename)
}

// PersistCachedDatabase implements [domain.Persistence]: a crash-safe
// whole-file rewrite of every live document plus every non-primary index's
// creation record. On success it broadcasts compaction.done to any
// WaitCompaction callers.
func (p *Persistence) PersistCachedDatabase(ctx context.Context, allData []domain.Document, indexes map[string]domain.IndexDTO) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if p.inMemoryOnly {
		return nil
	}

	lines := make([][]byte, 0, len(allData)+len(indexes))
	for _, doc := range allData {
		line, err := p.serialize(ctx, doc)
		if err != nil {
			return err
		}
		lines = append(lines, line)
	}
	for fieldKey, dto := range indexes {
		if fieldKey == "_id" {
			continue
		}
		line, err := p.serialize(ctx, dto)
		if err != nil {
			return err
		}
		lines = append(lines, line)
	}

	if err := p.storage.CrashSafeWriteFileLines(ctx, p.filename, lines, p.fileMode, p.dirMode); err != nil {
		return err
	}
	p.compactionDone.Signal()
	return nil
}

// WaitCompaction implements [domain.Persistence]: it blocks until the next
// successful [Persistence.PersistCachedDatabase] call, or ctx is done.
func (p *Persistence) WaitCompaction(ctx context.Context) error {
	return p.compactionDone.Wait(ctx)
}
