package sqlhistory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertStmt(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO server_history(occurred_at, event, server_id, project_id, pid, port, status, source, command, detail) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		insertStmt(SQLite))
	assert.Contains(t, insertStmt(Postgres), "VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)")
}

func TestNullString(t *testing.T) {
	assert.False(t, nullString("").Valid)
	assert.True(t, nullString("pnpm dev").Valid)
}
