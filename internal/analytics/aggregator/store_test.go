package aggregator

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/postgres"
)

func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	host := os.Getenv("TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("skipping: TEST_POSTGRES_HOST not set")
	}
	db, err := postgres.New(config.PostgresConfig{
		Host:            host,
		Port:            5432,
		Database:        "formations_test",
		User:            "formations",
		Password:        "localdev",
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestStoreSnapshots(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()
	store := NewStore(db)

	marker := time.Now().UnixNano()
	require.NoError(t, store.SaveSnapshot(ctx, analytics.AggregatedStats{TotalAssignments: marker}))

	latest, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, marker, latest.TotalAssignments)

	list, err := store.ListSnapshots(ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, marker, list[0].TotalAssignments)
}
