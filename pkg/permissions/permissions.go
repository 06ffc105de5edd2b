// Package permissions decides whether a principal may invoke a service.
// Rules map a service identifier to the roles allowed to call it; services
// without a rule fall back to the manager's default-allow setting.
package permissions

import (
	"sync"

	"github.com/morezero/service-engine/pkg/engine"
)

// Rule lists the roles allowed to invoke one service. An empty role list
// denies everyone.
type Rule struct {
	Service string   `json:"service"`
	Roles   []string `json:"roles"`
}

// Memory is an in-process rule-table permission manager. It implements
// engine.PermissionManager.
type Memory struct {
	mu           sync.RWMutex
	defaultAllow bool
	rules        map[string]map[string]bool
}

// NewMemory creates a Memory manager. defaultAllow decides access for
// services with no rule.
func NewMemory(defaultAllow bool) *Memory {
	return &Memory{
		defaultAllow: defaultAllow,
		rules:        make(map[string]map[string]bool),
	}
}

// SetRule replaces the rule for a service. Passing no roles installs a
// deny-all rule.
func (m *Memory) SetRule(service string, roles ...string) {
	set := make(map[string]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}

	m.mu.Lock()
	m.rules[service] = set
	m.mu.Unlock()
}

// ClearRule removes the rule for a service, restoring default behavior.
func (m *Memory) ClearRule(service string) {
	m.mu.Lock()
	delete(m.rules, service)
	m.mu.Unlock()
}

// ReplaceAll swaps the whole rule table in one step.
func (m *Memory) ReplaceAll(rules []Rule) {
	next := make(map[string]map[string]bool, len(rules))
	for _, rule := range rules {
		set := next[rule.Service]
		if set == nil {
			set = make(map[string]bool, len(rule.Roles))
			next[rule.Service] = set
		}
		for _, r := range rule.Roles {
			set[r] = true
		}
	}

	m.mu.Lock()
	m.rules = next
	m.mu.Unlock()
}

// CanAccess reports whether the principal holds one of the roles the service
// rule allows. No rule means the default-allow setting applies; no further
// detail about the decision is disclosed.
func (m *Memory) CanAccess(identifier string, principal engine.Principal) bool {
	m.mu.RLock()
	set, ok := m.rules[identifier]
	m.mu.RUnlock()

	if !ok {
		return m.defaultAllow
	}
	for _, role := range principal.Roles {
		if set[role] {
			return true
		}
	}
	return false
}
