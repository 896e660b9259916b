package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// EnvTestPostgresDSN names a disposable database for the postgres contract run.
const EnvTestPostgresDSN = "BOTB_TEST_POSTGRES_DSN"

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv(EnvTestPostgresDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvTestPostgresDSN)
	}

	runStoreContract(t, func(t *testing.T) Store {
		t.Helper()
		ctx := context.Background()
		s, err := NewPostgresStore(ctx, dsn, WithClock(func() time.Time { return fixedNow }))
		require.NoError(t, err)
		// Every subtest starts from an empty competition.
		require.NoError(t, s.db.Exec(`TRUNCATE scores, bands, criteria, users RESTART IDENTITY CASCADE`).Error)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
