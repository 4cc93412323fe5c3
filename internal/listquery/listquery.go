// Package listquery holds the list-view request shared by the live feed
// server, the stores and the pagination controller: page, page size, an
// opaque filter and a sort order.
package listquery

import (
	"encoding/json"
	"reflect"
)

const (
	DefaultItemsPerPage = 10
	// SearchKey is the filter key interpreted as free-text search.
	SearchKey = "search"
	// IDField is the tie-break key every sort ends with.
	IDField = "_id"
)

type Order int

const (
	Asc  Order = 1
	Desc Order = -1
)

type SortField struct {
	Field string `json:"field"`
	Order Order  `json:"order"`
}

// Filter maps filter keys to values. Opaque to the controller.
type Filter map[string]any

// Clone returns a shallow copy.
func (f Filter) Clone() Filter {
	out := make(Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Search returns the free-text search term, if any.
func (f Filter) Search() string {
	s, _ := f[SearchKey].(string)
	return s
}

// Key is a stable string form, usable as a cache key.
func (f Filter) Key() string {
	// encoding/json sorts map keys
	b, err := json.Marshal(f)
	if err != nil {
		return ""
	}
	return string(b)
}

// ListQuery is the current view request.
type ListQuery struct {
	Page         int         `json:"page"`
	ItemsPerPage int         `json:"items_per_page"`
	Filter       Filter      `json:"filter,omitempty"`
	Sort         []SortField `json:"sort,omitempty"`
}

// Normalize clamps page and page size to valid values.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.ItemsPerPage < 1 {
		q.ItemsPerPage = DefaultItemsPerPage
	}
	if q.Filter == nil {
		q.Filter = Filter{}
	}
	return q
}

// Skip is the number of matching documents before the page window.
func (q ListQuery) Skip() int {
	q = q.Normalize()
	return (q.Page - 1) * q.ItemsPerPage
}

// Spec turns the request into what a store executes.
func (q ListQuery) Spec(searchFields []string) Spec {
	q = q.Normalize()
	return Spec{
		Filter:       q.Filter,
		SearchFields: searchFields,
		Sort:         q.Sort,
		Skip:         q.Skip(),
		Limit:        q.ItemsPerPage,
	}
}

// Spec is a store-level query. Limit <= 0 means unlimited.
type Spec struct {
	Filter       Filter
	SearchFields []string
	Sort         []SortField
	Skip         int
	Limit        int
}

// FilterEqual compares two filters key by key without descending into values
// beyond equality.
func FilterEqual(a, b Filter) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !valueEqual(av, bv) {
			return false
		}
	}
	return true
}

// SortEqual reports whether two sort specifications are identical.
func SortEqual(a, b []SortField) bool {
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

func valueEqual(a, b any) bool {
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			return na == nb
		}
	}
	return reflect.DeepEqual(a, b)
}
