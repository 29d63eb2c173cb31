package satchel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"satchel/adapter/document"
	"satchel/domain"
)

type M = document.M

type CollectionTestSuite struct {
	suite.Suite
}

func (s *CollectionTestSuite) newInMemory() *Collection {
	c, err := New()
	s.Require().NoError(err)
	s.Require().NoError(c.LoadDatabase(context.Background()))
	return c
}

func (s *CollectionTestSuite) newFileBacked() (*Collection, string) {
	path := filepath.Join(s.T().TempDir(), "data.gedb")
	c, err := New(WithFilename(path))
	s.Require().NoError(err)
	s.Require().NoError(c.LoadDatabase(context.Background()))
	return c, path
}

func (s *CollectionTestSuite) TestInsertGeneratesID() {
	c := s.newInMemory()
	inserted, err := c.Insert(context.Background(), M{"a": 1})
	s.Require().NoError(err)
	s.Require().Len(inserted, 1)
	id, ok := inserted[0].ID()
	s.True(ok)
	s.NotEmpty(id)
}

func (s *CollectionTestSuite) TestInsertRejectsReservedKeys() {
	c := s.newInMemory()
	_, err := c.Insert(context.Background(), M{"$deleted": true})
	s.ErrorIs(err, domain.ErrInvalidKey)
}

func (s *CollectionTestSuite) TestInsertThenFindOne() {
	c := s.newInMemory()
	_, err := c.Insert(context.Background(), M{"_id": "a1", "name": "alice", "age": 30})
	s.Require().NoError(err)

	var got M
	s.Require().NoError(c.FindOne(context.Background(), M{"_id": "a1"}, &got))
	s.Equal("alice", got["name"])
}

func (s *CollectionTestSuite) TestFindOneNotFound() {
	c := s.newInMemory()
	var got M
	err := c.FindOne(context.Background(), M{"_id": "missing"}, &got)
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *CollectionTestSuite) TestFindWithQueryOperator() {
	c := s.newInMemory()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"age": 10}, M{"age": 20}, M{"age": 30})
	s.Require().NoError(err)

	cur, err := c.Find(ctx, M{"age": M{"$gte": 20}})
	s.Require().NoError(err)
	n, err := cur.Count()
	s.NoError(err)
	s.Equal(2, n)
}

func (s *CollectionTestSuite) TestCount() {
	c := s.newInMemory()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"a": 1}, M{"a": 2})
	s.Require().NoError(err)

	n, err := c.Count(ctx, M{})
	s.NoError(err)
	s.Equal(int64(2), n)
}

func (s *CollectionTestSuite) TestUpdateSingle() {
	c := s.newInMemory()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"_id": "x", "count": 1})
	s.Require().NoError(err)

	updated, err := c.Update(ctx, M{"_id": "x"}, M{"$set": M{"count": 2}})
	s.Require().NoError(err)
	s.Require().Len(updated, 1)
	s.Equal(2, updated[0].(M)["count"])
}

func (s *CollectionTestSuite) TestUpdateMulti() {
	c := s.newInMemory()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"kind": "a", "n": 1}, M{"kind": "a", "n": 2}, M{"kind": "b", "n": 3})
	s.Require().NoError(err)

	updated, err := c.Update(ctx, M{"kind": "a"}, M{"$set": M{"n": 0}}, WithUpdateMulti(true))
	s.Require().NoError(err)
	s.Len(updated, 2)
}

func (s *CollectionTestSuite) TestUpsertInsertsWhenNoMatch() {
	c := s.newInMemory()
	ctx := context.Background()
	result, err := c.Update(ctx, M{"_id": "new"}, M{"$set": M{"a": 1}}, WithUpsert(true))
	s.Require().NoError(err)
	s.Require().Len(result, 1)
	s.Equal("new", result[0].(M)["_id"])
}

func (s *CollectionTestSuite) TestUpdateRejectsMultiWithUpsert() {
	c := s.newInMemory()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"kind": "a"}, M{"kind": "a"}, M{"kind": "a"})
	s.Require().NoError(err)

	_, err = c.Update(ctx, M{"kind": "a"}, M{"$set": M{"seen": true}}, WithUpdateMulti(true), WithUpsert(true))
	s.ErrorIs(err, domain.ErrInvalidOptions)

	n, err := c.Count(ctx, M{"kind": "a"})
	s.NoError(err)
	s.Equal(int64(3), n)
}

func (s *CollectionTestSuite) TestRemoveSingle() {
	c := s.newInMemory()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"_id": "a"}, M{"_id": "b"})
	s.Require().NoError(err)

	n, err := c.Remove(ctx, M{"_id": "a"})
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	var got M
	s.ErrorIs(c.FindOne(ctx, M{"_id": "a"}, &got), domain.ErrNotFound)
}

func (s *CollectionTestSuite) TestRemoveMulti() {
	c := s.newInMemory()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"kind": "x"}, M{"kind": "x"}, M{"kind": "y"})
	s.Require().NoError(err)

	n, err := c.Remove(ctx, M{"kind": "x"}, WithRemoveMulti(true))
	s.Require().NoError(err)
	s.Equal(int64(2), n)
}

func (s *CollectionTestSuite) TestEnsureUniqueIndexRejectsDuplicate() {
	c := s.newInMemory()
	ctx := context.Background()
	s.Require().NoError(c.EnsureIndex(ctx, WithFields("email"), WithUnique(true)))
	_, err := c.Insert(ctx, M{"email": "a@example.com"})
	s.Require().NoError(err)

	_, err = c.Insert(ctx, M{"email": "a@example.com"})
	s.Error(err)
}

func (s *CollectionTestSuite) TestEnsureTTLIndexRejectsExistingArrayField() {
	c := s.newInMemory()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"expiresAt": []any{time.Now()}})
	s.Require().NoError(err)

	err = c.EnsureIndex(ctx, WithFields("expiresAt"), WithTTL(time.Minute))
	var fv *domain.ErrFieldValue
	s.ErrorAs(err, &fv)
	s.Equal("expiresAt", fv.Field)
}

func (s *CollectionTestSuite) TestInsertRejectsArrayOnTTLField() {
	c := s.newInMemory()
	ctx := context.Background()
	s.Require().NoError(c.EnsureIndex(ctx, WithFields("expiresAt"), WithTTL(time.Minute)))

	_, err := c.Insert(ctx, M{"expiresAt": []any{"not-a-date"}})
	var fv *domain.ErrFieldValue
	s.ErrorAs(err, &fv)
	s.Equal("expiresAt", fv.Field)
}

func (s *CollectionTestSuite) TestUpdateRejectsArrayOnTTLField() {
	c := s.newInMemory()
	ctx := context.Background()
	s.Require().NoError(c.EnsureIndex(ctx, WithFields("expiresAt"), WithTTL(time.Minute)))
	_, err := c.Insert(ctx, M{"_id": "a"})
	s.Require().NoError(err)

	_, err = c.Update(ctx, M{"_id": "a"}, M{"$set": M{"expiresAt": []any{"not-a-date"}}})
	var fv *domain.ErrFieldValue
	s.ErrorAs(err, &fv)
	s.Equal("expiresAt", fv.Field)
}

func (s *CollectionTestSuite) TestRemoveIndex() {
	c := s.newInMemory()
	ctx := context.Background()
	s.Require().NoError(c.EnsureIndex(ctx, WithFields("email")))
	s.Require().NoError(c.RemoveIndex(ctx, "email"))
	s.NoError(c.RemoveIndex(ctx, "email"))
}

func (s *CollectionTestSuite) TestRemovePrimaryIndexRejected() {
	c := s.newInMemory()
	err := c.RemoveIndex(context.Background(), "_id")
	s.ErrorIs(err, domain.ErrInvalidOptions)
}

func (s *CollectionTestSuite) TestGetAllData() {
	c := s.newInMemory()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"a": 1}, M{"a": 2})
	s.Require().NoError(err)

	all, err := c.GetAllData(ctx)
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *CollectionTestSuite) TestPersistAcrossReload() {
	c, path := s.newFileBacked()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"_id": "p1", "a": 1})
	s.Require().NoError(err)

	reloaded, err := New(WithFilename(path))
	s.Require().NoError(err)
	s.Require().NoError(reloaded.LoadDatabase(ctx))

	var got M
	s.Require().NoError(reloaded.FindOne(ctx, M{"_id": "p1"}, &got))
	s.Equal(1, got["a"])
}

func (s *CollectionTestSuite) TestDropDatabase() {
	c, _ := s.newFileBacked()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"a": 1})
	s.Require().NoError(err)

	s.Require().NoError(c.DropDatabase(ctx))

	all, err := c.GetAllData(ctx)
	s.Require().NoError(err)
	s.Empty(all)
}

func (s *CollectionTestSuite) TestCompactDatafileAndWaitCompaction() {
	c, _ := s.newFileBacked()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"_id": "c1", "a": 1})
	s.Require().NoError(err)
	_, err = c.Remove(ctx, M{"_id": "c1"})
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() { done <- c.WaitCompaction(context.Background()) }()
	s.Require().NoError(c.CompactDatafile(ctx))
	s.NoError(<-done)
}

func (s *CollectionTestSuite) TestSetAutocompactionIntervalRunsAndStops() {
	c, _ := s.newFileBacked()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"_id": "c1", "a": 1})
	s.Require().NoError(err)
	_, err = c.Remove(ctx, M{"_id": "c1"})
	s.Require().NoError(err)

	c.SetAutocompactionInterval(time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- c.WaitCompaction(context.Background()) }()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(minAutocompactInterval + 2*time.Second):
		s.Fail("autocompaction never ran")
	}

	c.StopAutocompaction()
	// A second Stop is a no-op, not a hang.
	c.StopAutocompaction()
}

func (s *CollectionTestSuite) TestSetAutocompactionIntervalEnforcesMinimum() {
	c, _ := s.newFileBacked()
	defer c.StopAutocompaction()
	c.SetAutocompactionInterval(time.Nanosecond)
	s.GreaterOrEqual(minAutocompactInterval, time.Nanosecond)

	// With the interval clamped to the floor, no compaction runs right away.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.ErrorIs(c.WaitCompaction(ctx), context.DeadlineExceeded)
}

func (s *CollectionTestSuite) TestUpdateRevalidatesModifiedKeys() {
	c := s.newInMemory()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"_id": "u1", "a": M{"x": 1}})
	s.Require().NoError(err)

	_, err = c.Update(ctx, M{"_id": "u1"}, M{"$set": M{"a.$evil": 1}})
	s.ErrorIs(err, domain.ErrInvalidKey)

	var got M
	s.Require().NoError(c.FindOne(ctx, M{"_id": "u1"}, &got))
	sub, ok := got["a"].(M)
	s.Require().True(ok)
	s.NotContains(sub, "$evil")
}

func (s *CollectionTestSuite) TestWherePanicIsRecoveredAsError() {
	c := s.newInMemory()
	ctx := context.Background()
	_, err := c.Insert(ctx, M{"_id": "w1", "a": 1})
	s.Require().NoError(err)

	var got M
	err = c.FindOne(ctx, M{"$where": func(domain.Document) bool {
		panic("boom")
	}}, &got)
	s.ErrorIs(err, domain.ErrInvalidQuery)
}

func TestCollectionTestSuite(t *testing.T) {
	suite.Run(t, new(CollectionTestSuite))
}
