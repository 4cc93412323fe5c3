package listquery

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListQuery_Normalize(t *testing.T) {
	q := ListQuery{Page: 0, ItemsPerPage: -3}.Normalize()

	assert.Equal(t, 1, q.Page)
	assert.Equal(t, DefaultItemsPerPage, q.ItemsPerPage)
	assert.NotNil(t, q.Filter)
}

func TestListQuery_Skip(t *testing.T) {
	tests := []struct {
		page, perPage, want int
	}{
		{1, 10, 0},
		{3, 10, 20},
		{4, 25, 75},
		{-2, 10, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("page %d of %d", tt.page, tt.perPage), func(t *testing.T) {
			assert.Equal(t, tt.want, ListQuery{Page: tt.page, ItemsPerPage: tt.perPage}.Skip())
		})
	}
}

func TestFilterEqual(t *testing.T) {
	assert.True(t, FilterEqual(Filter{"search": "abc", "group_id": "g1"}, Filter{"group_id": "g1", "search": "abc"}))
	assert.True(t, FilterEqual(Filter{"limit": 3}, Filter{"limit": float64(3)}))
	assert.True(t, FilterEqual(nil, Filter{}))
	assert.False(t, FilterEqual(Filter{"search": "abc"}, Filter{"search": "abd"}))
	assert.False(t, FilterEqual(Filter{"search": ""}, Filter{}))
}

func TestFilter_KeyIsOrderIndependent(t *testing.T) {
	a := Filter{"b": 1, "a": "x"}
	b := Filter{"a": "x", "b": 1}

	assert.Equal(t, a.Key(), b.Key())
}

func TestMatches(t *testing.T) {
	doc := Document{
		"_id":      "a1",
		"title":    "Hello Gophers",
		"body":     "channels everywhere",
		"tag_ids":  []any{"t1", "t2"},
		"group_id": "g1",
		"votes":    float64(3),
	}
	fields := []string{"title", "body"}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"empty search", Filter{"search": ""}, true},
		{"search title case-insensitive", Filter{"search": "gopher"}, true},
		{"search body", Filter{"search": "CHANNELS"}, true},
		{"search miss", Filter{"search": "abc"}, false},
		{"equality", Filter{"group_id": "g1"}, true},
		{"equality miss", Filter{"group_id": "g2"}, false},
		{"array membership", Filter{"tag_ids": "t2"}, true},
		{"array membership miss", Filter{"tag_ids": "t3"}, false},
		{"numeric equality across types", Filter{"votes": 3}, true},
		{"missing field vs nil", Filter{"deleted_at": nil}, true},
		{"combined", Filter{"search": "hello", "group_id": "g1", "tag_ids": "t1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(doc, tt.filter, fields))
		})
	}
}

func TestSortDocuments_TieBreakByID(t *testing.T) {
	docs := []Document{
		{"_id": "c", "rank": float64(1)},
		{"_id": "a", "rank": float64(2)},
		{"_id": "b", "rank": float64(1)},
		{"_id": "d", "rank": float64(2)},
	}

	SortDocuments(docs, []SortField{{Field: "rank", Order: Desc}})

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID()
	}
	assert.Equal(t, []string{"a", "d", "b", "c"}, ids)
}

func TestSortDocuments_Timestamps(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := []Document{
		{"_id": "late", "created_at": base.Add(2 * time.Hour).Format(time.RFC3339Nano)},
		{"_id": "early", "created_at": base.Format(time.RFC3339Nano)},
		{"_id": "mid", "created_at": base.Add(time.Hour).Format(time.RFC3339Nano)},
	}

	SortDocuments(docs, []SortField{{Field: "created_at", Order: Asc}})

	assert.Equal(t, "early", docs[0].ID())
	assert.Equal(t, "mid", docs[1].ID())
	assert.Equal(t, "late", docs[2].ID())
}

func TestCompare_TypeRanks(t *testing.T) {
	assert.Equal(t, -1, Compare(nil, false))
	assert.Equal(t, -1, Compare(true, 0))
	assert.Equal(t, -1, Compare(10, "a"))
	assert.Equal(t, 0, Compare(int64(2), float64(2)))
	assert.Equal(t, 1, Compare("b", "a"))
	assert.Equal(t, -1, Compare("2026-01-01T00:00:00Z", "a"))
	assert.Equal(t, 0, Compare([]any{"x"}, map[string]any{}))
}

func TestSortDocuments_MissingFirstThenByteOrder(t *testing.T) {
	docs := []Document{
		{"_id": "1", "title": "apple"},
		{"_id": "2", "title": "Banana"},
		{"_id": "3"},
	}

	SortDocuments(docs, []SortField{{Field: "title", Order: Asc}})
	assert.Equal(t, []string{"3", "2", "1"}, []string{docs[0].ID(), docs[1].ID(), docs[2].ID()})

	SortDocuments(docs, []SortField{{Field: "title", Order: Desc}})
	assert.Equal(t, []string{"1", "2", "3"}, []string{docs[0].ID(), docs[1].ID(), docs[2].ID()})
}

func TestCompare_TimestampsAndStringsStayTransitive(t *testing.T) {
	// chronologically 10:00+02:00 is before 09:00Z, byte-wise it is after
	values := []any{
		"2026-01-01T10:00:00+02:00",
		"2026-01-01T09:00:00Z",
		"2026-01-01T09:30:00",
		"2026-01-01 zzz",
		"2026-01-01T09:00:00.1234567Z",
		time.Date(2026, 1, 1, 8, 30, 0, 0, time.UTC),
		"A",
	}
	for _, a := range values {
		for _, b := range values {
			assert.Equal(t, -Compare(b, a), Compare(a, b), "%v vs %v", a, b)
			for _, c := range values {
				if Compare(a, b) <= 0 && Compare(b, c) <= 0 {
					assert.LessOrEqual(t, Compare(a, c), 0, "%v <= %v <= %v", a, b, c)
				}
			}
		}
	}

	assert.Equal(t, -1, Compare(values[0], values[1]))
	assert.Equal(t, -1, Compare(values[1], values[6]), "timestamps rank before other strings")
	assert.Equal(t, 1, Compare(values[2], values[0]), "no zone: plain string")
	assert.Equal(t, 1, Compare(values[4], values[0]), "nanoseconds: plain string")
}

func TestCompare_SameInstantFallsBackToBytes(t *testing.T) {
	assert.Equal(t, -1, Compare("2026-01-01T09:00:00+00:00", "2026-01-01T09:00:00Z"))
	assert.Equal(t, 0, Compare("2026-01-01T09:00:00Z", "2026-01-01T09:00:00Z"))
}

func TestWindow(t *testing.T) {
	docs := make([]Document, 25)
	for i := range docs {
		docs[i] = Document{"_id": fmt.Sprintf("%02d", i)}
	}

	assert.Len(t, Window(docs, 0, 10), 10)
	assert.Len(t, Window(docs, 20, 10), 5)
	assert.Empty(t, Window(docs, 30, 10))
	assert.Len(t, Window(docs, 5, 0), 20)
}

func TestToDocument_StampsID(t *testing.T) {
	type article struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}

	doc, err := ToDocument(article{ID: "a1", Title: "x"})

	require.NoError(t, err)
	assert.Equal(t, "a1", doc.ID())
	assert.Equal(t, "a1", doc[IDField])
	assert.Equal(t, "x", doc["title"])
}

func TestDocument_Omit(t *testing.T) {
	doc := Document{"_id": "u1", "email": "a@b.c", "name": "A"}

	out := doc.Omit("email")

	assert.NotContains(t, out, "email")
	assert.Contains(t, doc, "email")
}
