package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/service-engine/pkg/policy"
)

const seedPolicyLogPrefix = "db:seed_policy"

// System user UUID used for created_by when seeding policy rules.
const systemUserID = "00000000-0000-0000-0000-000000000001"

// SeedPolicy loads the access policy from the given path and seeds the
// service_permissions table with its rules. Idempotent: existing
// (service, role) pairs are left untouched.
func SeedPolicy(ctx context.Context, pool *pgxpool.Pool, policyFilePath string) error {
	slog.Info(fmt.Sprintf("%s - seeding from %s", seedPolicyLogPrefix, policyFilePath))

	pol, err := policy.LoadPolicy(policyFilePath)
	if err != nil {
		return fmt.Errorf("%s - load access policy: %w", seedPolicyLogPrefix, err)
	}
	if pol == nil || len(pol.Rules) == 0 {
		slog.Info(fmt.Sprintf("%s - no rules to seed", seedPolicyLogPrefix))
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s - begin tx: %w", seedPolicyLogPrefix, err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	seeded := 0
	for service, roles := range pol.Rules {
		for _, role := range roles {
			if _, err := tx.Exec(ctx,
				`INSERT INTO service_permissions (service, role, created, created_by)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (service, role) DO NOTHING`,
				service, role, now, systemUserID); err != nil {
				return fmt.Errorf("%s - seed rule %s/%s: %w", seedPolicyLogPrefix, service, role, err)
			}
			seeded++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s - commit tx: %w", seedPolicyLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Seeded %d permission rules", seedPolicyLogPrefix, seeded))
	return nil
}
