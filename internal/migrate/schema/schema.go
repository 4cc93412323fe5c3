// Package schema holds the Postgres migrations for the event store and the
// read store.
package schema

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/migrate"
)

// sortTimestampFn classifies jsonb strings for ORDER BY the same way
// listquery.Compare does: a timestamptz for strings of the timestamp shape
// that parse, NULL otherwise.
var sortTimestampFn = fmt.Sprintf(`
	CREATE OR REPLACE FUNCTION collab_timestamp(s text) RETURNS timestamptz
	LANGUAGE plpgsql STABLE AS $$
	BEGIN
		IF s IS NULL OR s !~ '%s' THEN
			RETURN NULL;
		END IF;
		RETURN s::timestamptz;
	EXCEPTION WHEN others THEN
		RETURN NULL;
	END
	$$`, listquery.TimestampPattern)

// Migrations returns the schema history in version order.
func Migrations(db *sql.DB, log *zap.SugaredLogger) []migrate.Migration {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return []migrate.Migration{
		{
			Version: 1,
			Name:    "create_events",
			Up: exec(db, `
				CREATE TABLE IF NOT EXISTS events (
					id             TEXT PRIMARY KEY,
					aggregate_id   TEXT NOT NULL,
					aggregate_type TEXT NOT NULL,
					event_type     TEXT NOT NULL,
					data           JSONB NOT NULL,
					version        INT NOT NULL,
					created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
					UNIQUE (aggregate_id, version)
				)`),
			Down: exec(db, `DROP TABLE IF EXISTS events`),
		},
		{
			Version: 2,
			Name:    "create_read_documents",
			Up: exec(db, `
				CREATE TABLE IF NOT EXISTS read_documents (
					collection TEXT NOT NULL,
					id         TEXT NOT NULL,
					doc        JSONB NOT NULL,
					PRIMARY KEY (collection, id)
				)`),
			Down: exec(db, `DROP TABLE IF EXISTS read_documents`),
		},
		{
			Version: 3,
			Name:    "index_documents_and_events",
			Up: exec(db,
				`CREATE INDEX IF NOT EXISTS read_documents_doc_idx ON read_documents USING GIN (doc jsonb_path_ops)`,
				`CREATE INDEX IF NOT EXISTS events_created_at_idx ON events (created_at)`,
			),
			Down: exec(db,
				`DROP INDEX IF EXISTS events_created_at_idx`,
				`DROP INDEX IF EXISTS read_documents_doc_idx`,
			),
		},
		{
			Version: 4,
			Name:    "read_documents_updated_at",
			Up: func(ctx context.Context) error {
				exists, err := ColumnExists(ctx, db, log, "read_documents", "updated_at")
				if err != nil {
					return err
				}
				if exists {
					return nil
				}
				return AddColumn(ctx, db, "read_documents", "updated_at", "TIMESTAMPTZ NOT NULL DEFAULT now()")
			},
			Down: func(ctx context.Context) error {
				return DropColumn(ctx, db, "read_documents", "updated_at")
			},
		},
		{
			Version: 5,
			Name:    "sort_timestamp_function",
			Up:      exec(db, sortTimestampFn),
			Down:    exec(db, `DROP FUNCTION IF EXISTS collab_timestamp(text)`),
		},
	}
}

// NewRunner prepares the version table and returns a runner over
// Migrations.
func NewRunner(ctx context.Context, db *sql.DB, log *zap.SugaredLogger) (*migrate.Runner, error) {
	versions := migrate.NewPostgresStore(db)
	if err := versions.Init(ctx); err != nil {
		return nil, err
	}
	return migrate.NewRunner(versions, log, Migrations(db, log)...)
}

func exec(db *sql.DB, statements ...string) func(context.Context) error {
	return func(ctx context.Context) error {
		for _, stmt := range statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

// ColumnExists reports whether table has the column.
func ColumnExists(ctx context.Context, db *sql.DB, log *zap.SugaredLogger, table, column string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = $1 AND column_name = $2)`,
		table, column,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	if log != nil {
		log.Debugw("Checked column", "table", table, "column", column, "exists", exists)
	}
	return exists, nil
}

// AddColumn adds a column unless it is already there. Identifiers are not
// parameterizable, so callers pass constants only.
func AddColumn(ctx context.Context, db *sql.DB, table, column, definition string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, column, definition))
	return err
}

// DropColumn removes a column if present.
func DropColumn(ctx context.Context, db *sql.DB, table, column string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", table, column))
	return err
}
