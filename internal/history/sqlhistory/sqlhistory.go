// Package sqlhistory is the database/sql event table shared by the SQLite
// and PostgreSQL sinks. Backends differ only in column types and bind
// parameter syntax, which a Dialect describes.
package sqlhistory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/loykin/previewd/internal/history"
)

const table = "server_history"

var columns = []string{"occurred_at", "event", "server_id", "project_id", "pid", "port", "status", "source", "command", "detail"}

type Dialect struct {
	Name string
	// TimeType is the column type for occurred_at.
	TimeType string
	// Bind returns the placeholder for the n-th (1-based) parameter.
	Bind func(n int) string
}

var (
	SQLite   = Dialect{Name: "sqlite", TimeType: "TIMESTAMP", Bind: func(int) string { return "?" }}
	Postgres = Dialect{Name: "postgres", TimeType: "TIMESTAMPTZ", Bind: func(n int) string { return fmt.Sprintf("$%d", n) }}
)

type Store struct {
	db      *sql.DB
	dialect Dialect
	insert  string
}

// Open creates the event table on db when missing. The Store owns db from
// here on, including on error.
func Open(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{db: db, dialect: d, insert: insertStmt(d)}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s history schema: %w", d.Name, err)
	}
	return s, nil
}

func insertStmt(d Dialect) string {
	binds := make([]string, len(columns))
	for i := range columns {
		binds[i] = d.Bind(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)", table, strings.Join(columns, ", "), strings.Join(binds, ", "))
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
			occurred_at %s NOT NULL,
			event TEXT NOT NULL,
			server_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			pid INTEGER NOT NULL,
			port INTEGER NOT NULL,
			status TEXT NOT NULL,
			source TEXT NOT NULL,
			command TEXT,
			detail TEXT
		)`, table, s.dialect.TimeType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_project_time ON %[1]s(project_id, occurred_at)`, table),
	}
	for _, q := range ddl {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Send(ctx context.Context, e history.Event) error {
	r := e.Record
	_, err := s.db.ExecContext(ctx, s.insert,
		e.OccurredAt.UTC(), string(e.Type), r.ServerID, r.ProjectID, r.PID, r.Port,
		r.Status, r.Source, nullString(r.Command), nullString(r.Detail))
	if err != nil {
		return fmt.Errorf("%s history insert: %w", s.dialect.Name, err)
	}
	return nil
}

// Count reports how many events of type typ were stored for projectID.
func (s *Store) Count(ctx context.Context, projectID string, typ history.EventType) (int, error) {
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE project_id = %s AND event = %s", table, s.dialect.Bind(1), s.dialect.Bind(2))
	var n int
	err := s.db.QueryRowContext(ctx, q, projectID, string(typ)).Scan(&n)
	return n, err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
