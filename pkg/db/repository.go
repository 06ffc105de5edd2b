package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/service-engine/pkg/permissions"
)

const repoLogPrefix = "db:repository"

// Repository provides database access for permission rules.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListPermissionRules returns all permission rules grouped by service. It
// implements permissions.RuleStore.
func (r *Repository) ListPermissionRules(ctx context.Context) ([]permissions.Rule, error) {
	slog.Debug(fmt.Sprintf("%s - ListPermissionRules", repoLogPrefix))

	rows, err := r.pool.Query(ctx,
		`SELECT service, role
		 FROM service_permissions
		 ORDER BY service, role`)
	if err != nil {
		return nil, fmt.Errorf("%s - query permission rules: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	byService := make(map[string][]string)
	var order []string
	for rows.Next() {
		var service, role string
		if err := rows.Scan(&service, &role); err != nil {
			return nil, fmt.Errorf("%s - scan permission rule: %w", repoLogPrefix, err)
		}
		if _, seen := byService[service]; !seen {
			order = append(order, service)
		}
		byService[service] = append(byService[service], role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - iterate permission rules: %w", repoLogPrefix, err)
	}

	rules := make([]permissions.Rule, 0, len(order))
	for _, service := range order {
		rules = append(rules, permissions.Rule{Service: service, Roles: byService[service]})
	}
	return rules, nil
}

// UpsertPermissionRule inserts one (service, role) pair; existing pairs are
// left untouched.
func (r *Repository) UpsertPermissionRule(ctx context.Context, service, role, userID string) error {
	slog.Info(fmt.Sprintf("%s - UpsertPermissionRule service=%s role=%s", repoLogPrefix, service, role))

	_, err := r.pool.Exec(ctx,
		`INSERT INTO service_permissions (service, role, created, created_by)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (service, role) DO NOTHING`,
		service, role, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("%s - upsert permission rule: %w", repoLogPrefix, err)
	}
	return nil
}

// DeletePermissionRules removes every rule for a service, restoring the
// default-allow behavior for it.
func (r *Repository) DeletePermissionRules(ctx context.Context, service string) (int64, error) {
	slog.Info(fmt.Sprintf("%s - DeletePermissionRules service=%s", repoLogPrefix, service))

	tag, err := r.pool.Exec(ctx,
		`DELETE FROM service_permissions WHERE service = $1`, service)
	if err != nil {
		return 0, fmt.Errorf("%s - delete permission rules: %w", repoLogPrefix, err)
	}
	return tag.RowsAffected(), nil
}
