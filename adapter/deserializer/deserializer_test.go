package deserializer

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"satchel/adapter/document"
	"satchel/domain"
)

type M = document.M

type DeserializerTestSuite struct {
	suite.Suite
	ds domain.Deserializer
}

func (s *DeserializerTestSuite) SetupTest() {
	s.ds = New()
}

func (s *DeserializerTestSuite) TestNilTarget() {
	s.ErrorIs(s.ds.Deserialize(context.Background(), []byte(`{}`), nil), domain.ErrTargetNil)
}

func (s *DeserializerTestSuite) TestIntoMap() {
	var got map[string]any
	s.NoError(s.ds.Deserialize(context.Background(), []byte(`{"a":1,"b":"c"}`), &got))
	s.Equal(map[string]any{"a": 1.0, "b": "c"}, got)
}

func (s *DeserializerTestSuite) TestIntoDocument() {
	var got domain.Document
	s.NoError(s.ds.Deserialize(context.Background(), []byte(`{"a":1}`), &got))
	s.Equal(M{"a": 1.0}, got)
}

func (s *DeserializerTestSuite) TestDateSentinelConverted() {
	now := time.Now().Round(time.Millisecond)
	line := []byte(`{"when":{"$$date":` + timeMillisJSON(now) + `}}`)
	var got domain.Document
	s.NoError(s.ds.Deserialize(context.Background(), line, &got))
	when, ok := got.Get("when")
	s.Require().True(ok)
	t, ok := when.(time.Time)
	s.Require().True(ok)
	s.True(t.Equal(now))
}

func (s *DeserializerTestSuite) TestNestedDateSentinelConverted() {
	now := time.Now().Round(time.Millisecond)
	line := []byte(`{"nested":{"when":{"$$date":` + timeMillisJSON(now) + `}}}`)
	var got domain.Document
	s.NoError(s.ds.Deserialize(context.Background(), line, &got))
	nested, ok := got.Get("nested")
	s.Require().True(ok)
	nestedDoc, ok := nested.(domain.Document)
	s.Require().True(ok)
	when, ok := nestedDoc.Get("when")
	s.Require().True(ok)
	t, ok := when.(time.Time)
	s.Require().True(ok)
	s.True(t.Equal(now))
}

func (s *DeserializerTestSuite) TestMalformedJSON() {
	var got map[string]any
	s.Error(s.ds.Deserialize(context.Background(), []byte(`{not json`), &got))
}

func (s *DeserializerTestSuite) TestContextCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var got map[string]any
	s.ErrorIs(s.ds.Deserialize(ctx, []byte(`{}`), &got), context.Canceled)
}

func timeMillisJSON(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func TestDeserializerTestSuite(t *testing.T) {
	suite.Run(t, new(DeserializerTestSuite))
}
