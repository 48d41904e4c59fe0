package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/migrate"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/testutil"
)

func TestRunIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.TeardownTestDB(t, db) })
	ctx := context.Background()

	// SetupTestDB already migrated; a second run applies nothing.
	require.NoError(t, migrate.Run(ctx, db))

	var applied int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Positive(t, applied)

	// Every pipeline table exists.
	for _, table := range []string{"jobs", "target_results", "worker_heartbeats", "queue_history"} {
		var n int
		assert.NoError(t, db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM `+table).Scan(&n), table)
	}
}
