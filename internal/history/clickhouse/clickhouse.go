// Package clickhouse stores server lifecycle events in a ClickHouse
// MergeTree table for long-range analytics.
package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/previewd/internal/history"
)

const DefaultTable = "server_history"

// Options locate the ClickHouse server. Empty fields select the server
// defaults (database and user "default", no password).
type Options struct {
	Addr     string // native protocol host:port
	Database string
	Username string
	Password string
	Table    string
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Sink inserts one row per event.
type Sink struct {
	conn   driver.Conn
	table  string
	insert string
}

// New connects, pings and creates the table when missing.
func New(opts Options) (*Sink, error) {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if !identRe.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", opts.Table)
	}
	auth := clickhouse.Auth{Database: "default", Username: "default", Password: opts.Password}
	if opts.Database != "" {
		auth.Database = opts.Database
	}
	if opts.Username != "" {
		auth.Username = opts.Username
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr:        []string{opts.Addr},
		Auth:        auth,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open ClickHouse %s: %w", opts.Addr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping ClickHouse %s: %w", opts.Addr, err)
	}
	s := &Sink{
		conn:  conn,
		table: opts.Table,
		insert: fmt.Sprintf(`INSERT INTO %s (event, occurred_at, server_id, project_id, pid, port, status, source, command, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, opts.Table),
	}
	if err := s.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create ClickHouse table %s: %w", opts.Table, err)
	}
	return s, nil
}

func (s *Sink) migrate(ctx context.Context) error {
	return s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			event LowCardinality(String),
			occurred_at DateTime64(6, 'UTC'),
			server_id String,
			project_id String,
			pid UInt32,
			port UInt16,
			status LowCardinality(String),
			source LowCardinality(String),
			command String,
			detail String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (project_id, occurred_at)`, s.table))
}

func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	r := e.Record
	err := s.conn.Exec(ctx, s.insert,
		string(e.Type), e.OccurredAt,
		r.ServerID, r.ProjectID,
		clampU32(r.PID), clampU16(r.Port),
		r.Status, r.Source, r.Command, r.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert %s event for %s: %w", e.Type, r.ProjectID, err)
	}
	return nil
}

func clampU32(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n) // #nosec G115 -- pids fit in 32 bits
}

func clampU16(n int) uint16 {
	if n < 0 || n > 65535 {
		return 0
	}
	return uint16(n) // #nosec G115 -- range checked
}
