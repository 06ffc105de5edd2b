package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearPermissions truncates the service_permissions table. Schema is
// preserved; only data is removed. RESTART IDENTITY resets sequences.
func ClearPermissions(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing permission tables", clearLogPrefix))

	_, err := pool.Exec(ctx, `TRUNCATE TABLE
		service_permissions
		RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Permissions cleared", clearLogPrefix))
	return nil
}
