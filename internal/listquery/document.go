package listquery

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Document is the JSON-shaped form of a stored record.
type Document map[string]any

// ID returns the document identifier stored under "_id", falling back to "id".
func (d Document) ID() string {
	if id, ok := d[IDField].(string); ok {
		return id
	}
	id, _ := d["id"].(string)
	return id
}

// ToDocument converts any JSON-serializable value to a Document and stamps
// "_id" from its "id" field.
func ToDocument(v any) (Document, error) {
	if d, ok := v.(Document); ok {
		return d, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if _, ok := doc[IDField]; !ok {
		if id, ok := doc["id"]; ok {
			doc[IDField] = id
		}
	}
	return doc, nil
}

// Omit returns a copy of the document without the given fields.
func (d Document) Omit(fields ...string) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Matches reports whether doc satisfies filter. The search key is matched
// case-insensitively against searchFields; any other key is an equality test,
// or a membership test when the document field is an array.
func Matches(doc Document, filter Filter, searchFields []string) bool {
	for key, want := range filter {
		if key == SearchKey {
			term, _ := want.(string)
			if !matchesSearch(doc, term, searchFields) {
				return false
			}
			continue
		}
		if !matchesField(doc[key], want) {
			return false
		}
	}
	return true
}

func matchesSearch(doc Document, term string, fields []string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	for _, f := range fields {
		switch v := doc[f].(type) {
		case string:
			if strings.Contains(strings.ToLower(v), term) {
				return true
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && strings.Contains(strings.ToLower(s), term) {
					return true
				}
			}
		}
	}
	return false
}

func matchesField(have, want any) bool {
	if arr, ok := have.([]any); ok {
		if _, wantArr := want.([]any); !wantArr {
			for _, item := range arr {
				if valueEqual(item, want) {
					return true
				}
			}
			return false
		}
	}
	return valueEqual(have, want)
}

// SortDocuments orders docs by the sort fields and then by ascending id, so
// that page boundaries do not shift between equal keys.
func SortDocuments(docs []Document, fields []SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		return Less(docs[i], docs[j], fields)
	})
}

// Less is the ordering used by SortDocuments.
func Less(a, b Document, fields []SortField) bool {
	for _, f := range fields {
		c := Compare(a[f.Field], b[f.Field])
		if c == 0 {
			continue
		}
		if f.Order == Desc {
			return c > 0
		}
		return c < 0
	}
	return a.ID() < b.ID()
}

// Window returns docs[skip : skip+limit], clamped. limit <= 0 means no limit.
func Window(docs []Document, skip, limit int) []Document {
	if skip >= len(docs) {
		return []Document{}
	}
	if skip < 0 {
		skip = 0
	}
	end := len(docs)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	return docs[skip:end]
}

// TimestampPattern is the shape of strings that sort as timestamps: RFC 3339
// in UTC or with a numeric offset, at most microsecond precision. Stores that
// sort on their own must classify strings with the same pattern.
const TimestampPattern = `^\d{4}-\d{2}-\d{2}T([01]\d|2[0-3]):[0-5]\d:[0-5]\d(\.\d{1,6})?(Z|[+-](0\d|1[0-5]):[0-5]\d)$`

var timestampRe = regexp.MustCompile(TimestampPattern)

// Value ranks, lowest first.
const (
	rankNull = iota
	rankBool
	rankNumber
	rankTime
	rankString
	rankOther
)

// Compare orders JSON values: nil < bool < number < timestamp < string <
// anything else. Timestamps compare chronologically and then byte-wise;
// other strings byte-wise. Arrays and objects are all equal.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankTime:
		ta, sa := asTime(a)
		tb, sb := asTime(b)
		if c := ta.Compare(tb); c != 0 {
			return c
		}
		return strings.Compare(sa, sb)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

func rank(v any) int {
	switch s := v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case int, int32, int64, float32, float64, uint, uint32, uint64:
		return rankNumber
	case time.Time:
		return rankTime
	case string:
		if _, ok := parseTimestamp(s); ok {
			return rankTime
		}
		return rankString
	}
	return rankOther
}

func parseTimestamp(s string) (time.Time, bool) {
	if !timestampRe.MatchString(s) {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}

func asTime(v any) (time.Time, string) {
	if t, ok := v.(time.Time); ok {
		return t, t.UTC().Format(time.RFC3339Nano)
	}
	s := v.(string)
	t, _ := parseTimestamp(s)
	return t, s
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
