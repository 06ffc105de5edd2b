package policy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

const logPrefix = "policy:loader"

// LoadPolicy loads the access policy from file paths or environment.
// It tries paths in order: first any paths passed in, then ENGINE_POLICY_FILE
// env, then defaults. So an explicit path (e.g. from "seed my.json") is tried
// before the env var. Falls back to the embedded default policy when no file
// is found.
func LoadPolicy(paths ...string) (*Policy, error) {
	// Build path list: passed paths first, then env, then defaults
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("ENGINE_POLICY_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/policy.json", "policy.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var pol Policy
		if err := json.Unmarshal(data, &pol); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse policy file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded access policy from %s", logPrefix, p))
		return &pol, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default access policy", logPrefix))
	return DefaultPolicy(), nil
}

// DefaultPolicy returns the embedded fallback policy: every service is open
// except the system administration surface.
func DefaultPolicy() *Policy {
	return &Policy{
		Name:        "engine-default-policy",
		Version:     "1.0.0",
		Description: "Default access policy: open dispatch, admin surface restricted",
		Rules: map[string][]string{
			"system.admin": {"admin"},
		},
	}
}
