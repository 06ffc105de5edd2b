// Package policy loads the access policy document that seeds permission
// rules for the engine.
package policy

import "github.com/morezero/service-engine/pkg/permissions"

// Policy is the JSON access policy document. Rules map a service identifier
// to the roles allowed to invoke it; services without a rule follow
// DefaultAllow.
type Policy struct {
	Name         string              `json:"name"`
	Version      string              `json:"version,omitempty"`
	Description  string              `json:"description,omitempty"`
	DefaultAllow *bool               `json:"defaultAllow,omitempty"`
	Rules        map[string][]string `json:"rules"`
}

// AllowByDefault reports the policy's default-allow setting; unset means
// allow.
func (p *Policy) AllowByDefault() bool {
	if p.DefaultAllow == nil {
		return true
	}
	return *p.DefaultAllow
}

// PermissionRules converts the policy rules into the permissions package
// representation.
func (p *Policy) PermissionRules() []permissions.Rule {
	rules := make([]permissions.Rule, 0, len(p.Rules))
	for service, roles := range p.Rules {
		rules = append(rules, permissions.Rule{Service: service, Roles: roles})
	}
	return rules
}

// Manager builds an in-memory permission manager seeded from the policy.
func (p *Policy) Manager() *permissions.Memory {
	m := permissions.NewMemory(p.AllowByDefault())
	m.ReplaceAll(p.PermissionRules())
	return m
}
