package tests

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const postgresImage = "postgres:16-alpine"

// StartPostgres runs a throwaway Postgres container and returns its DSN and a terminate func.
func StartPostgres(ctx context.Context) (string, func(), error) {
	ctr, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("rvidia_test"),
		postgres.WithUsername("rvidia"),
		postgres.WithPassword("rvidia"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres container: %w", err)
	}
	terminate := func() {
		_ = ctr.Terminate(context.Background())
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		return "", nil, fmt.Errorf("postgres connection string: %w", err)
	}
	return dsn, terminate, nil
}

// TruncateAuthTables truncates auth-related tables for a clean test state.
func TruncateAuthTables(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := db.ExecContext(ctx, "TRUNCATE TABLE password_reset_tokens, users CASCADE")
	if err != nil {
		return fmt.Errorf("truncate auth tables: %w", err)
	}
	return nil
}
