package permissions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/service-engine/pkg/engine"
)

const databaseLogPrefix = "permissions:database"

// RuleStore loads permission rules from persistent storage (e.g.
// db.Repository).
type RuleStore interface {
	ListPermissionRules(ctx context.Context) ([]Rule, error)
}

// Database is a permission manager backed by a rule store. Rules are held in
// an in-memory snapshot; Reload refreshes it. Access checks never touch the
// store directly, so a slow database cannot stall dispatch.
type Database struct {
	store    RuleStore
	snapshot *Memory
}

// NewDatabase creates a Database manager. The snapshot starts empty; call
// Reload before serving.
func NewDatabase(store RuleStore, defaultAllow bool) *Database {
	return &Database{store: store, snapshot: NewMemory(defaultAllow)}
}

// Reload replaces the rule snapshot with the store's current contents.
func (d *Database) Reload(ctx context.Context) error {
	rules, err := d.store.ListPermissionRules(ctx)
	if err != nil {
		return fmt.Errorf("%s - failed to load permission rules: %w", databaseLogPrefix, err)
	}
	d.snapshot.ReplaceAll(rules)
	slog.Info(fmt.Sprintf("%s - Loaded %d permission rules", databaseLogPrefix, len(rules)))
	return nil
}

// CanAccess checks the current snapshot.
func (d *Database) CanAccess(identifier string, principal engine.Principal) bool {
	return d.snapshot.CanAccess(identifier, principal)
}
