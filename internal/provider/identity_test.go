package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNaturalSourceID(t *testing.T) {
	t.Parallel()

	rec := decode(t, `{"id": "13250871", "date": "2024-05-01"}`)
	assert.Equal(t, "chicago_13250871", NaturalSourceID("chicago", rec, "id"))

	// Numeric ids render without float formatting.
	rec = decode(t, `{"objectid": 98765}`)
	assert.Equal(t, "philadelphia_98765", NaturalSourceID("philadelphia", rec, "objectid"))
}

func TestNaturalSourceID_FallsBackToContentHash(t *testing.T) {
	t.Parallel()

	a := decode(t, `{"date": "2024-05-01", "type": "THEFT", "block": "100 N STATE"}`)
	reordered := decode(t, `{"block": "100 N STATE", "type": "THEFT", "date": "2024-05-01"}`)
	other := decode(t, `{"date": "2024-05-01", "type": "THEFT", "block": "200 N STATE"}`)

	idA := NaturalSourceID("chicago", a, "id")
	assert.True(t, strings.HasPrefix(idA, "chicago_"))
	assert.Equal(t, idA, NaturalSourceID("chicago", reordered, "id"), "key order must not change identity")
	assert.NotEqual(t, idA, NaturalSourceID("chicago", other, "id"))

	blank := decode(t, `{"id": "  ", "date": "2024-05-01"}`)
	assert.NotEqual(t, "chicago_", NaturalSourceID("chicago", blank, "id"))
}

func TestURLSourceID(t *testing.T) {
	t.Parallel()

	a := URLSourceID("gnews", "https://News.Example.com/story?id=1#comments", nil)
	b := URLSourceID("gnews", "  https://news.example.com/story?id=1 ", nil)
	c := URLSourceID("gnews", "https://news.example.com/story?id=2", nil)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, strings.TrimPrefix(a, "gnews_"), 32)

	rec := map[string]any{"title": "Store robbed"}
	assert.Equal(t, "rss_lp_magazine_"+ContentHash(rec), URLSourceID("rss_lp_magazine", "", rec))
}
