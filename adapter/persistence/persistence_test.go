package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"satchel/adapter/document"
	"satchel/domain"
)

type M = document.M

type PersistenceTestSuite struct {
	suite.Suite
}

func (s *PersistenceTestSuite) newFileBacked() (domain.Persistence, string) {
	path := filepath.Join(s.T().TempDir(), "data.gedb")
	p, err := New(WithFilename(path))
	s.Require().NoError(err)
	return p, path
}

func (s *PersistenceTestSuite) TestInMemoryOnlyByDefault() {
	p, err := New()
	s.Require().NoError(err)
	s.NoError(p.PersistNewState(context.Background(), M{"_id": uuid.NewString(), "a": 1}))
	docs, indexes, err := p.LoadDatabase(context.Background())
	s.NoError(err)
	s.Nil(docs)
	s.Nil(indexes)
}

func (s *PersistenceTestSuite) TestPersistAndReload() {
	p, _ := s.newFileBacked()
	id1, id2 := uuid.NewString(), uuid.NewString()
	s.Require().NoError(p.PersistNewState(context.Background(), M{"_id": id1, "a": 1}, M{"_id": id2, "a": 2}))

	docs, _, err := p.LoadDatabase(context.Background())
	s.Require().NoError(err)
	s.Len(docs, 2)
}

func (s *PersistenceTestSuite) TestTombstoneRemovesOnReload() {
	p, _ := s.newFileBacked()
	id := uuid.NewString()
	s.Require().NoError(p.PersistNewState(context.Background(), M{"_id": id, "a": 1}))
	s.Require().NoError(p.PersistNewState(context.Background(), M{"_id": id, "$$deleted": true}))

	docs, _, err := p.LoadDatabase(context.Background())
	s.Require().NoError(err)
	s.Empty(docs)
}

func (s *PersistenceTestSuite) TestIndexRecordsSurviveReload() {
	p, _ := s.newFileBacked()
	created := M{"$$indexCreated": M{"fieldNames": []any{"a"}, "unique": true, "sparse": false}}
	s.Require().NoError(p.PersistNewState(context.Background(), created))

	_, indexes, err := p.LoadDatabase(context.Background())
	s.Require().NoError(err)
	s.Require().Contains(indexes, "a")
	s.True(indexes["a"].Created.Unique)
}

func (s *PersistenceTestSuite) TestIndexRemovalIsApplied() {
	p, _ := s.newFileBacked()
	created := M{"$$indexCreated": M{"fieldNames": []any{"a"}, "unique": false, "sparse": false}}
	s.Require().NoError(p.PersistNewState(context.Background(), created))
	s.Require().NoError(p.PersistNewState(context.Background(), M{"$$indexRemoved": "a"}))

	_, indexes, err := p.LoadDatabase(context.Background())
	s.Require().NoError(err)
	s.NotContains(indexes, "a")
}

func (s *PersistenceTestSuite) TestCompactionRewritesFile() {
	p, _ := s.newFileBacked()
	s.Require().NoError(p.PersistNewState(context.Background(), M{"_id": "stale", "a": 1}))

	kept := M{"_id": "kept", "a": 2}
	s.Require().NoError(p.PersistCachedDatabase(context.Background(), []domain.Document{kept}, nil))

	docs, _, err := p.LoadDatabase(context.Background())
	s.Require().NoError(err)
	s.Equal([]domain.Document{kept}, docs)
}

func (s *PersistenceTestSuite) TestWaitCompactionUnblocksOnPersist() {
	p, _ := s.newFileBacked()
	done := make(chan error, 1)
	go func() { done <- p.WaitCompaction(context.Background()) }()
	s.Require().NoError(p.PersistCachedDatabase(context.Background(), nil, nil))
	s.NoError(<-done)
}

func (s *PersistenceTestSuite) TestWaitCompactionRespectsContext() {
	p, _ := s.newFileBacked()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.ErrorIs(p.WaitCompaction(ctx), context.Canceled)
}

func (s *PersistenceTestSuite) TestDropDatabaseRemovesFile() {
	p, path := s.newFileBacked()
	s.Require().NoError(p.PersistNewState(context.Background(), M{"_id": uuid.NewString(), "a": 1}))
	s.Require().NoError(p.DropDatabase(context.Background()))
	docs, _, err := p.LoadDatabase(context.Background())
	s.Require().NoError(err)
	s.Empty(docs)
	s.NotEmpty(path)
}

func (s *PersistenceTestSuite) TestFilenameEndingInTildeRejected() {
	_, err := New(WithFilename("x~"))
	s.ErrorIs(err, domain.ErrDatafileName)
}

func (s *PersistenceTestSuite) TestSerializationHooksMustRoundTrip() {
	after := func(b []byte) ([]byte, error) { return b, nil }
	before := func(b []byte) ([]byte, error) { return nil, errors.New("broken") }
	_, err := New(WithSerializationHooks(after, before))
	var notBijective *domain.ErrHookNotBijective
	s.ErrorAs(err, &notBijective)
}

func (s *PersistenceTestSuite) TestSerializationHooksMustBothBeSet() {
	after := func(b []byte) ([]byte, error) { return b, nil }
	_, err := New(WithSerializationHooks(after, nil))
	s.ErrorIs(err, domain.ErrInvalidOptions)
}

func (s *PersistenceTestSuite) TestPanickingSerializationHookIsRecoveredDuringProbe() {
	after := func(b []byte) ([]byte, error) { panic("boom") }
	before := func(b []byte) ([]byte, error) { return b, nil }
	s.NotPanics(func() {
		_, err := New(WithSerializationHooks(after, before))
		var notBijective *domain.ErrHookNotBijective
		s.ErrorAs(err, &notBijective)
	})
}

func TestPersistenceTestSuite(t *testing.T) {
	suite.Run(t, new(PersistenceTestSuite))
}
