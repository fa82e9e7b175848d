package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/previewd/internal/history"
)

func TestSinkAgainstContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pg, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("previewd"),
		tcpostgres.WithUsername("previewd"),
		tcpostgres.WithPassword("previewd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(45*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	sink, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, sink.Close()) })

	rec := history.Record{ServerID: "s1", ProjectID: "docs", PID: 9001, Port: 4321, Status: "running", Source: "managed"}
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventServerStart, OccurredAt: time.Now(), Record: rec}))
	rec.Status = "stopped"
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventServerStop, OccurredAt: time.Now(), Record: rec}))

	n, err := sink.Count(ctx, "docs", history.EventServerStop)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// reopening against an existing table must not fail
	again, err := New(dsn)
	require.NoError(t, err)
	_ = again.Close()
}

func TestNewRejectsEmptyDSN(t *testing.T) {
	_, err := New(" ")
	assert.Error(t, err)
}
