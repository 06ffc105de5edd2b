package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// Pool sizing for the permission store. Reads dominate (rule reloads and
// repository queries); writes are seed/upsert commands.
const (
	poolMaxConns = 20
	poolMinConns = 2
)

// NewPool opens a pgx pool against the permission database and verifies
// connectivity before returning it.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	config.MaxConns = poolMaxConns
	config.MinConns = poolMinConns

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Permission database connection established", logPrefix))
	return pool, nil
}

// RunMigrations applies the permission-schema migrations in name order.
// A failure names the migration so the broken file is obvious.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	slog.Info(fmt.Sprintf("%s - Applying %d migrations", logPrefix, len(migrations)))

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", logPrefix, m.Name, err)
		}
		slog.Info(fmt.Sprintf("%s - Applied %s", logPrefix, m.Name))
	}

	return nil
}

// MigrationStatus prints whether the permission schema is present and, when
// it is, how many permission rules it currently holds.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) error {
	const statusLogPrefix = "db:MigrationStatus"

	// service_permissions is created by the first migration, so its presence
	// means the schema has been applied.
	var schemaPresent bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'service_permissions')`).Scan(&schemaPresent)
	if err != nil {
		return fmt.Errorf("%s - failed to check schema: %w", statusLogPrefix, err)
	}

	migrations, err := LoadMigrations(migrationPath)
	if err != nil {
		return fmt.Errorf("%s - load migration list: %w", statusLogPrefix, err)
	}

	if !schemaPresent {
		fmt.Printf("Migration status: not applied (run 'engine migrate up'). %d migrations in %s\n", len(migrations), migrationPath)
		return nil
	}

	var rules int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM service_permissions`).Scan(&rules); err != nil {
		return fmt.Errorf("%s - failed to count permission rules: %w", statusLogPrefix, err)
	}
	fmt.Printf("Migration status: applied (%d migrations in %s, %d permission rules)\n", len(migrations), migrationPath, rules)
	return nil
}

// MigrationDown is not supported: the permission schema migrates forward
// only. Kept as a command so 'engine migrate down' explains itself.
func MigrationDown(ctx context.Context, pool *pgxpool.Pool, _ string) error {
	fmt.Println("Migration down: not supported (migrations are forward-only). Use a database backup to roll back.")
	return nil
}
