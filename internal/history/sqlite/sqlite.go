// Package sqlite keeps server history in a local SQLite file, the default
// sink for a single developer machine.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/previewd/internal/history/sqlhistory"
)

type Sink struct {
	*sqlhistory.Store
}

// New accepts "sqlite:///abs/file.db", "sqlite://:memory:", a bare file
// path or ":memory:".
func New(dsn string) (*Sink, error) {
	path := strings.TrimSpace(dsn)
	if len(path) >= len("sqlite://") && strings.EqualFold(path[:len("sqlite://")], "sqlite://") {
		path = path[len("sqlite://"):]
	}
	if path == "" {
		return nil, fmt.Errorf("empty SQLite history path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open SQLite %s: %w", path, err)
	}
	// one connection, otherwise each :memory: connection sees its own database
	db.SetMaxOpenConns(1)
	store, err := sqlhistory.Open(context.Background(), db, sqlhistory.SQLite)
	if err != nil {
		return nil, err
	}
	return &Sink{Store: store}, nil
}
