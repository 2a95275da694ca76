package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/jobfacade/internal/core"
	"github.com/target/jobfacade/internal/testutil"
)

func TestPostgresStoreContract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	runStoreContract(t, func(t *testing.T, clock TimeProvider) core.Backend {
		db := testutil.SetupEphemeralSchemaDB(t)
		return NewPostgresStore(db, PostgresStoreOptions{TimeProvider: clock})
	})
}

func TestPostgresStore_RecordsTransitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	db := testutil.SetupEphemeralSchemaDB(t)
	clock := contractClock()
	s := NewPostgresStore(db, PostgresStoreOptions{TimeProvider: clock})
	ids := submitN(t, s, clock, "test job", "default", 1)

	_, err := s.Cancel(context.Background(), ids[0])
	require.NoError(t, err)

	rec := mustFetch(t, s, ids[0])
	require.Len(t, rec.History, 2)
	assert.Equal(t, pgEnqueued, rec.History[0].Status)
	assert.Equal(t, pgCancelled, rec.History[1].Status)
	assert.Equal(t, clock.Now().UnixMilli(), rec.CompletedAt.Millis)
}
