package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/readmodel"
)

var ErrUnknownCollection = errors.New("unknown collection")

// PostgresReadStore implements ReadStoreInterface on a single JSONB table,
// read_documents(collection, id, doc, updated_at).
type PostgresReadStore struct {
	db *sql.DB
}

// NewPostgresReadStore creates a new PostgreSQL-based read store
func NewPostgresReadStore(db *sql.DB) *PostgresReadStore {
	return &PostgresReadStore{db: db}
}

// Set stores a read model
func (rs *PostgresReadStore) Set(ctx context.Context, collection, id string, data any) error {
	return rs.upsert(ctx, rs.db, collection, id, data)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (rs *PostgresReadStore) upsert(ctx context.Context, db execer, collection, id string, data any) error {
	doc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", collection, id, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO read_documents (collection, id, doc, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, id) DO UPDATE SET
			doc = EXCLUDED.doc,
			updated_at = EXCLUDED.updated_at
	`, collection, id, string(doc), time.Now())
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

// Get retrieves a read model by id
func (rs *PostgresReadStore) Get(ctx context.Context, collection, id string) (any, bool, error) {
	var raw []byte
	err := rs.db.QueryRowContext(ctx,
		`SELECT doc FROM read_documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	model, err := decode(collection, raw)
	if err != nil {
		return nil, false, err
	}
	return model, true, nil
}

// GetAll retrieves all items in a collection
func (rs *PostgresReadStore) GetAll(ctx context.Context, collection string) ([]any, error) {
	rows, err := rs.db.QueryContext(ctx,
		`SELECT doc FROM read_documents WHERE collection = $1 ORDER BY updated_at DESC`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", collection, err)
	}
	defer rows.Close()

	var items []any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		model, err := decode(collection, raw)
		if err != nil {
			return nil, err
		}
		items = append(items, model)
	}
	return items, rows.Err()
}

// Delete removes a read model
func (rs *PostgresReadStore) Delete(ctx context.Context, collection, id string) error {
	_, err := rs.db.ExecContext(ctx,
		`DELETE FROM read_documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update reads, modifies and writes back a read model inside one transaction,
// holding a row lock so concurrent projections do not lose updates.
func (rs *PostgresReadStore) Update(ctx context.Context, collection, id string, updateFn func(current any) any) (bool, error) {
	tx, err := rs.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM read_documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}

	current, err := decode(collection, raw)
	if err != nil {
		return false, err
	}
	if err := rs.upsert(ctx, tx, collection, id, updateFn(current)); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Find runs the filter, sort and window in SQL
func (rs *PostgresReadStore) Find(ctx context.Context, collection string, spec listquery.Spec) ([]listquery.Document, error) {
	q, args, err := buildFindQuery(collection, spec)
	if err != nil {
		return nil, err
	}
	rows, err := rs.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []listquery.Document{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc listquery.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		if _, ok := doc[listquery.IDField]; !ok {
			doc[listquery.IDField] = doc["id"]
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count returns the number of documents matching the filter
func (rs *PostgresReadStore) Count(ctx context.Context, collection string, spec listquery.Spec) (int, error) {
	where, args, err := buildWhere(collection, spec)
	if err != nil {
		return 0, err
	}
	var n int
	if err := rs.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM read_documents WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

func decode(collection string, raw []byte) (any, error) {
	model := readmodel.New(collection)
	if model == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	if err := json.Unmarshal(raw, model); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	return model, nil
}

// buildWhere translates a filter into a WHERE clause over the doc column.
// Field names are always bound as parameters.
func buildWhere(collection string, spec listquery.Spec) (string, []any, error) {
	args := []any{collection}
	clauses := []string{"collection = $1"}
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	nextField := func(name string) string {
		return next(name) + "::text"
	}

	for _, key := range sortedKeys(spec.Filter) {
		value := spec.Filter[key]
		if key == listquery.SearchKey {
			term, _ := value.(string)
			term = strings.TrimSpace(term)
			if term == "" || len(spec.SearchFields) == 0 {
				continue
			}
			pattern := next("%" + escapeLike(term) + "%")
			ors := make([]string, 0, len(spec.SearchFields))
			for _, f := range spec.SearchFields {
				ors = append(ors, fmt.Sprintf("doc->>%s ILIKE %s", nextField(f), pattern))
			}
			clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
			continue
		}

		if value == nil {
			field := nextField(key)
			clauses = append(clauses, fmt.Sprintf("(doc->%s IS NULL OR doc->%s = 'null'::jsonb)", field, field))
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", nil, fmt.Errorf("filter %s: %w", key, err)
		}
		field := nextField(key)
		val := next(string(encoded))
		clauses = append(clauses, fmt.Sprintf(
			"(doc->%s = %s::jsonb OR (jsonb_typeof(doc->%s) = 'array' AND doc->%s @> jsonb_build_array(%s::jsonb)))",
			field, val, field, field, val,
		))
	}
	return strings.Join(clauses, " AND "), args, nil
}

func buildFindQuery(collection string, spec listquery.Spec) (string, []any, error) {
	where, args, err := buildWhere(collection, spec)
	if err != nil {
		return "", nil, err
	}
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	order := make([]string, 0, len(spec.Sort)*5+1)
	for _, s := range spec.Sort {
		dir := "ASC"
		if s.Order == listquery.Desc {
			dir = "DESC"
		}
		for _, expr := range sortKeys(next(s.Field)) {
			order = append(order, expr+" "+dir)
		}
	}
	order = append(order, `id COLLATE "C" ASC`)

	var b strings.Builder
	b.WriteString("SELECT doc FROM read_documents WHERE ")
	b.WriteString(where)
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(order, ", "))
	if spec.Limit > 0 {
		b.WriteString(" LIMIT " + next(spec.Limit))
	}
	if spec.Skip > 0 {
		b.WriteString(" OFFSET " + next(spec.Skip))
	}
	return b.String(), args, nil
}

// sortKeys orders one field the way listquery.Compare does: by type rank
// first, then by the value of that type. Rows of equal rank are NULL in the
// same columns. collab_timestamp comes from the schema migrations.
func sortKeys(param string) []string {
	v := "doc->" + param + "::text"
	text := "doc->>" + param + "::text"
	typ := "jsonb_typeof(" + v + ")"
	return []string{
		fmt.Sprintf("CASE %s WHEN 'boolean' THEN 1 WHEN 'number' THEN 2 "+
			"WHEN 'string' THEN CASE WHEN collab_timestamp(%s) IS NULL THEN 4 ELSE 3 END "+
			"WHEN 'array' THEN 5 WHEN 'object' THEN 5 ELSE 0 END", typ, text),
		fmt.Sprintf("CASE WHEN %s = 'boolean' THEN (%s)::boolean END", typ, v),
		fmt.Sprintf("CASE WHEN %s = 'number' THEN (%s)::numeric END", typ, v),
		fmt.Sprintf("collab_timestamp(%s)", text),
		fmt.Sprintf(`CASE WHEN %s = 'string' THEN %s END COLLATE "C"`, typ, text),
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
