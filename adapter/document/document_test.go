package document

import (
	"encoding/json"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"satchel/domain"
)

type DocumentTestSuite struct {
	suite.Suite
}

func (s *DocumentTestSuite) TestSimpleMap() {
	obj := map[string]any{"yeah": "sure", "of": "course"}
	doc, err := New(obj)
	s.NoError(err)
	s.Equal(M{"yeah": "sure", "of": "course"}, doc)
}

func (s *DocumentTestSuite) TestSimpleStruct() {
	obj := struct{ No, Yes string }{No: "way", Yes: "indeed"}
	doc, err := New(obj)
	s.NoError(err)
	s.Equal(M{"No": "way", "Yes": "indeed"}, doc)
}

func (s *DocumentTestSuite) TestUnexportedField() {
	obj := struct{ No, yes string }{No: "way", yes: "indeed"}
	doc, err := New(obj)
	s.NoError(err)
	s.Equal(M{"No": "way"}, doc)
}

func (s *DocumentTestSuite) TestIgnoreField() {
	obj := struct {
		No  string
		Yes string `gedb:"-"`
	}{No: "way", Yes: "indeed"}
	doc, err := New(obj)
	s.NoError(err)
	s.Equal(M{"No": "way"}, doc)
}

func (s *DocumentTestSuite) TestPointerValue() {
	obj := &struct{ No, Yes string }{No: "way", Yes: "indeed"}
	doc, err := New(obj)
	s.NoError(err)
	s.Equal(M{"No": "way", "Yes": "indeed"}, doc)
}

func (s *DocumentTestSuite) TestPointerToNilPointer() {
	obj := (*struct{})(nil)
	doc, err := New(&obj)
	s.NoError(err)
	s.Equal(M{}, doc)
}

func (s *DocumentTestSuite) TestNamedStruct() {
	obj := struct {
		Compliment1 bool `gedb:"Hello"`
		Compliment2 bool `gedb:"Hi"`
	}{Compliment1: true, Compliment2: false}
	doc, err := New(obj)
	s.NoError(err)
	s.Equal(M{"Hello": true, "Hi": false}, doc)
}

func (s *DocumentTestSuite) TestOmitEmpty() {
	obj := struct {
		Compliment1 bool  `gedb:"Hello,omitempty"`
		Compliment2 any   `gedb:"Hi,omitempty"`
		Compliment3 []int `gedb:"Sup,omitempty"`
	}{Compliment1: true}
	doc, err := New(obj)
	s.NoError(err)
	s.Equal(M{"Hello": true}, doc)
}

func (s *DocumentTestSuite) TestOmitZero() {
	obj := struct {
		Compliment1 bool `gedb:"Hello,omitzero"`
		Compliment2 bool `gedb:"Hi,omitzero"`
	}{Compliment1: true, Compliment2: false}
	doc, err := New(obj)
	s.NoError(err)
	s.Equal(M{"Hello": true}, doc)
}

func (s *DocumentTestSuite) TestNestedMap() {
	obj := map[string]any{"nested": map[string]any{"a": "b"}, "x": "y"}
	doc, err := New(obj)
	s.NoError(err)
	s.Equal(M{"nested": M{"a": "b"}, "x": "y"}, doc)
}

func (s *DocumentTestSuite) TestNestedStruct() {
	obj := struct {
		Nested struct {
			A int `gedb:"a"`
		}
		X float64 `gedb:"x"`
	}{}
	doc, err := New(obj)
	s.NoError(err)
	s.Equal(M{"Nested": M{"a": 0}, "x": 0.0}, doc)
}

func (s *DocumentTestSuite) TestNullable() {
	obj := struct {
		Map      map[string]any
		Function func()
		Channel  chan struct{}
		Slice    []any
	}{}
	doc, err := New(obj)
	s.NoError(err)
	s.Equal(M{"Map": nil, "Function": nil, "Channel": nil, "Slice": nil}, doc)
}

func (s *DocumentTestSuite) TestNonStringKeyMap() {
	obj := map[string]any{"value": map[int]any{1: 123}}
	_, err := New(obj)
	s.ErrorIs(err, domain.ErrInvalidOptions)
}

func (s *DocumentTestSuite) TestNilArg() {
	doc, err := New(nil)
	s.NoError(err)
	s.Equal(M{}, doc)
}

func (s *DocumentTestSuite) TestNonStructArg() {
	_, err := New(1)
	s.ErrorIs(err, domain.ErrInvalidOptions)
}

func (s *DocumentTestSuite) TestFastPath() {
	now := time.Now()
	testCases := []struct {
		in  any
		out M
	}{
		{in: map[string]string{"abc": "123"}, out: M{"abc": "123"}},
		{in: map[string]bool{"abc": true}, out: M{"abc": true}},
		{in: map[string]int{"abc": 123}, out: M{"abc": int(123)}},
		{in: map[string]float64{"abc": 123}, out: M{"abc": float64(123)}},
		{in: map[string]time.Time{"abc": now}, out: M{"abc": now}},
	}
	for _, tc := range testCases {
		doc, err := New(tc.in)
		s.NoError(err)
		s.Equal(tc.out, doc)
	}
}

func (s *DocumentTestSuite) TestArray() {
	obj := map[string][]string{"names": {"Huguinho", "Zezinho", "Luisinho"}}
	doc, err := New(obj)
	s.NoError(err)
	s.Equal(M{"names": []any{"Huguinho", "Zezinho", "Luisinho"}}, doc)
}

func (s *DocumentTestSuite) TestID() {
	id := uuid.NewString()
	obj := map[string]string{"_id": id}
	doc, err := New(obj)
	s.NoError(err)
	s.True(doc.Has("_id"))
	got, ok := doc.ID()
	s.True(ok)
	s.Equal(id, got)
}

func (s *DocumentTestSuite) TestIDUnset() {
	doc := M{}
	_, ok := doc.ID()
	s.False(ok)
}

func (s *DocumentTestSuite) TestIterationFunctions() {
	doc := M{"name": "option", "age": 99, "key": "value", "pi": 3.14}
	hashMap := maps.Collect(doc.Iter())
	keys := slices.Collect(doc.Keys())
	values := slices.Collect(doc.Values())
	s.Len(hashMap, len(doc))
	s.Len(keys, len(doc))
	s.Len(values, len(doc))
	for key, value := range doc {
		s.Contains(hashMap, key)
		s.Equal(value, hashMap[key])
		s.Contains(keys, key)
		s.Contains(values, value)
	}
}

func (s *DocumentTestSuite) TestSet() {
	doc := M{"a": nil}
	doc.Set("a", "b")
	doc.Set("c", "d")
	s.Equal(M{"a": "b", "c": "d"}, doc)
}

func (s *DocumentTestSuite) TestUnset() {
	doc := M{"a": nil}
	doc.Unset("a")
	doc.Unset("b")
	s.Equal(M{}, doc)
}

func (s *DocumentTestSuite) TestLen() {
	m := make(M)
	s.Equal(0, m.Len())
	for i := range 1000 {
		m[strconv.Itoa(i)] = i
		s.Equal(i+1, m.Len())
	}
}

func (s *DocumentTestSuite) TestClone() {
	doc := M{"a": M{"b": 1}, "c": []any{M{"d": 2}, 3}}
	clone := doc.Clone().(M)
	clone["a"].(M)["b"] = 99
	clone["c"].([]any)[0].(M)["d"] = 99
	s.Equal(1, doc["a"].(M)["b"])
	s.Equal(2, doc["c"].([]any)[0].(M)["d"])
}

func (s *DocumentTestSuite) TestMarshalRoundTrip() {
	doc := M{"a": 1.0, "b": "c", "d": []any{1.0, 2.0}}
	b, err := json.Marshal(doc)
	s.NoError(err)

	var got M
	s.NoError(json.Unmarshal(b, &got))
	s.Equal(doc, got)
}

func (s *DocumentTestSuite) TestUnmarshalValidJSON() {
	j := `{
		"1": 2,
		"value": [1, 2.5, null, "a", "\n", ["b"], {}],
		"key": {"hey": "ya"}
	}`

	expected := M{
		"1":     2.0,
		"value": []any{1.0, 2.5, nil, "a", "\n", []any{"b"}, M{}},
		"key":   M{"hey": "ya"},
	}

	m := make(M)
	s.NoError(json.Unmarshal([]byte(j), &m))
	s.Equal(expected, m)
}

func (s *DocumentTestSuite) TestUnmarshalEscapes() {
	j := `{"s": "aéb\t\\c"}`
	m := make(M)
	s.NoError(json.Unmarshal([]byte(j), &m))
	s.Equal("aéb\t\\c", m["s"])
}

func (s *DocumentTestSuite) TestUnmarshalInvalidJSON() {
	j := `{"a":FALSE}`
	m := make(M)
	s.Error(m.UnmarshalJSON([]byte(j)))
}

func (s *DocumentTestSuite) TestUnmarshalNonObjectJSON() {
	j := `"a"`
	m := make(M)
	s.Error(json.Unmarshal([]byte(j), &m))
}

func (s *DocumentTestSuite) TestRegexSurvivesAsOpaqueValue() {
	rgx := regexp.MustCompile(`^123$`)
	doc, err := New(map[string]any{"regex": rgx})
	s.NoError(err)
	v, ok := doc.Get("regex")
	s.True(ok)
	s.Same(rgx, v)
}

func TestDocumentTestSuite(t *testing.T) {
	suite.Run(t, new(DocumentTestSuite))
}
