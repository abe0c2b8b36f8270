package tree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "state": {
    "data": {
      "Catalog": {
        "catalogOffer": {
          "title": "Rain World",
          "price": {"totalPrice": {"discountPrice": 2499, "originalPrice": 2499, "discount": 0}},
          "keyImages": [{"type": "OfferImageWide", "url": "https://cdn/wide.jpg"}],
          "longDescription": null,
          "free": false
        }
      }
    }
  }
}`

func mustParse(t *testing.T, doc string) Tree {
	t.Helper()
	parsed, err := Parse([]byte(doc))
	require.NoError(t, err)
	return parsed
}

func TestResolveFindsNestedValues(t *testing.T) {
	doc := mustParse(t, sample)

	title, ok := Resolve(doc, "state.data.Catalog.catalogOffer.title").String()
	require.True(t, ok)
	assert.Equal(t, "Rain World", title)

	price, ok := Resolve(doc, "state.data.Catalog.catalogOffer.price.totalPrice.discountPrice").Int()
	require.True(t, ok)
	assert.Equal(t, int64(2499), price)

	free, ok := Resolve(doc, "state.data.Catalog.catalogOffer.free").Bool()
	require.True(t, ok)
	assert.False(t, free)
}

func TestResolveReturnsAbsentOnFirstMiss(t *testing.T) {
	doc := mustParse(t, sample)

	cases := []string{
		"state.data.Product",
		"state.data.Catalog.catalogOffer.title.length",
		"state.data.Catalog.catalogOffer.longDescription",
		"state.data.Catalog.catalogOffer.keyImages.0",
		"",
		"state..data",
		"nope",
	}
	for _, path := range cases {
		t.Run(path, func(t *testing.T) {
			assert.True(t, Resolve(doc, path).IsAbsent())
		})
	}
}

func TestResolveOverNonMappingRoots(t *testing.T) {
	roots := []Tree{Null, Of("x"), Of(3), Of(true), Seq(Of("a"), Of("b"))}
	for _, root := range roots {
		assert.True(t, Resolve(root, "a").IsAbsent(), root.Kind().String())
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	doc := mustParse(t, sample)
	path := "state.data.Catalog.catalogOffer.keyImages"

	first := Resolve(doc, path)
	second := Resolve(doc, path)
	assert.Equal(t, first, second)
	assert.Equal(t, Sequence, first.Kind())
	assert.Equal(t, 1, first.Len())
}

func TestResolveByCustomDelimiter(t *testing.T) {
	doc := mustParse(t, sample)
	title, ok := ResolveBy(doc, "state/data/Catalog/catalogOffer/title", "/").String()
	require.True(t, ok)
	assert.Equal(t, "Rain World", title)

	assert.True(t, ResolveBy(doc, "state.data", "/").IsAbsent())
}

func TestIndexPreselectsSequenceElements(t *testing.T) {
	doc := mustParse(t, sample)
	images := Resolve(doc, "state.data.Catalog.catalogOffer.keyImages")

	url, ok := Resolve(images.Index(0), "url").String()
	require.True(t, ok)
	assert.Equal(t, "https://cdn/wide.jpg", url)
	assert.True(t, images.Index(1).IsAbsent())
	assert.True(t, images.Index(-1).IsAbsent())
}

func TestScalarAccessors(t *testing.T) {
	assert.Nil(t, Null.StringPtr())
	assert.Nil(t, Of("abc").FloatPtr())
	assert.Nil(t, Of(7.5).IntPtr())

	f := Of(7.5).FloatPtr()
	require.NotNil(t, f)
	assert.Equal(t, 7.5, *f)

	s, ok := Of(42).String()
	require.True(t, ok)
	assert.Equal(t, "42", s)

	strs, ok := Seq(Of("en"), Of("fr"), Map(nil)).Strings()
	require.True(t, ok)
	assert.Equal(t, []string{"en", "fr"}, strs)
}

func TestMarshalRoundTrip(t *testing.T) {
	doc := mustParse(t, `{"a":[1,"two",true,null],"b":{"c":1.25}}`)
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[1,"two",true,null],"b":{"c":1.25}}`, string(out))
	assert.Equal(t, []string{"a", "b"}, doc.Keys())
}

func TestFields(t *testing.T) {
	doc := mustParse(t, `{"a":1,"b":{"c":"x"}}`)
	fields, ok := doc.Fields()
	require.True(t, ok)
	require.Len(t, fields, 2)
	c, ok := fields["b"].Get("c").String()
	require.True(t, ok)
	assert.Equal(t, "x", c)

	delete(fields, "a")
	assert.Equal(t, 2, doc.Len(), "Fields returns a copy")

	_, ok = Seq(Of("a")).Fields()
	assert.False(t, ok)
	_, ok = Null.Fields()
	assert.False(t, ok)
}
