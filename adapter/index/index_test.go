package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"satchel/adapter/document"
	"satchel/domain"
)

type M = document.M

type IndexTestSuite struct {
	suite.Suite
}

func (s *IndexTestSuite) newIndex(opts ...domain.IndexOption) domain.Index {
	idx, err := New(opts...)
	s.Require().NoError(err)
	return idx
}

func (s *IndexTestSuite) TestNewRejectsNoFieldNames() {
	_, err := New()
	s.ErrorIs(err, domain.ErrNoFieldName)
}

func (s *IndexTestSuite) TestInsertAndGetMatching() {
	idx := s.newIndex(domain.WithIndexFieldNames("a"))
	ctx := context.Background()
	doc1 := M{"_id": "1", "a": 10}
	doc2 := M{"_id": "2", "a": 20}
	s.Require().NoError(idx.Insert(ctx, doc1, doc2))

	found, err := idx.GetMatching(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal("1", found[0].(M)["_id"])
}

func (s *IndexTestSuite) TestUniqueRejectsDuplicateKey() {
	idx := s.newIndex(domain.WithIndexFieldNames("a"), domain.WithIndexUnique(true))
	ctx := context.Background()
	s.Require().NoError(idx.Insert(ctx, M{"_id": "1", "a": 1}))
	err := idx.Insert(ctx, M{"_id": "2", "a": 1})
	s.Error(err)

	n := idx.GetNumberOfKeys()
	s.Equal(1, n)
}

func (s *IndexTestSuite) TestSparseSkipsDocumentsMissingField() {
	idx := s.newIndex(domain.WithIndexFieldNames("a"), domain.WithIndexSparse(true))
	ctx := context.Background()
	s.Require().NoError(idx.Insert(ctx, M{"_id": "1"}, M{"_id": "2", "a": 1}))
	s.Equal(1, idx.GetNumberOfKeys())
}

func (s *IndexTestSuite) TestRemove() {
	idx := s.newIndex(domain.WithIndexFieldNames("a"))
	ctx := context.Background()
	doc := M{"_id": "1", "a": 1}
	s.Require().NoError(idx.Insert(ctx, doc))
	s.Require().NoError(idx.Remove(ctx, doc))

	found, err := idx.GetMatching(ctx, 1)
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *IndexTestSuite) TestUpdateMovesKey() {
	idx := s.newIndex(domain.WithIndexFieldNames("a"))
	ctx := context.Background()
	oldDoc := M{"_id": "1", "a": 1}
	newDoc := M{"_id": "1", "a": 2}
	s.Require().NoError(idx.Insert(ctx, oldDoc))
	s.Require().NoError(idx.Update(ctx, oldDoc, newDoc))

	found, err := idx.GetMatching(ctx, 2)
	s.Require().NoError(err)
	s.Len(found, 1)

	found, err = idx.GetMatching(ctx, 1)
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *IndexTestSuite) TestUpdateRollsBackOnUniqueViolation() {
	idx := s.newIndex(domain.WithIndexFieldNames("a"), domain.WithIndexUnique(true))
	ctx := context.Background()
	doc1 := M{"_id": "1", "a": 1}
	doc2 := M{"_id": "2", "a": 2}
	s.Require().NoError(idx.Insert(ctx, doc1, doc2))

	err := idx.Update(ctx, doc1, M{"_id": "1", "a": 2})
	s.Error(err)

	found, err := idx.GetMatching(ctx, 1)
	s.Require().NoError(err)
	s.Len(found, 1)
}

func (s *IndexTestSuite) TestGetBetweenBounds() {
	idx := s.newIndex(domain.WithIndexFieldNames("a"))
	ctx := context.Background()
	s.Require().NoError(idx.Insert(ctx, M{"_id": "1", "a": 1}, M{"_id": "2", "a": 5}, M{"_id": "3", "a": 10}))

	found, err := idx.GetBetweenBounds(ctx, domain.Bounds{GTE: 1, LT: 10})
	s.Require().NoError(err)
	s.Len(found, 2)
}

func (s *IndexTestSuite) TestResetRebuildsFromScratch() {
	idx := s.newIndex(domain.WithIndexFieldNames("a"))
	ctx := context.Background()
	s.Require().NoError(idx.Insert(ctx, M{"_id": "1", "a": 1}))
	s.Require().NoError(idx.Reset(ctx, M{"_id": "2", "a": 2}))

	found, err := idx.GetMatching(ctx, 1)
	s.Require().NoError(err)
	s.Empty(found)
	found, err = idx.GetMatching(ctx, 2)
	s.Require().NoError(err)
	s.Len(found, 1)
}

func (s *IndexTestSuite) TestCompoundIndexKey() {
	idx := s.newIndex(domain.WithIndexFieldNames("a", "b"))
	ctx := context.Background()
	s.Require().NoError(idx.Insert(ctx, M{"_id": "1", "a": 1, "b": "x"}))

	found, err := idx.GetMatching(ctx, M{"a": 1, "b": "x"})
	s.Require().NoError(err)
	s.Len(found, 1)
}

func TestIndexTestSuite(t *testing.T) {
	suite.Run(t, new(IndexTestSuite))
}
