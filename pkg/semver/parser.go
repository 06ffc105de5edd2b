// Package semver provides service reference parsing and SemVer resolution
// for the versioned service catalog.
package semver

import (
	"fmt"
	"regexp"
	"strings"
)

const logPrefix = "semver:parser"

// ParsedServiceRef holds the parsed components of a service reference string.
type ParsedServiceRef struct {
	// Full service identifier (e.g., "checks.info")
	Full string
	// Application namespace (e.g., "checks")
	App string
	// Service name within app (e.g., "info")
	Name string
	// Version range if specified (e.g., "^1.2.0", "2", ""); empty string means no version
	Range string
	// Raw input string
	Raw string
}

var (
	serviceNameRegex  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	appNameRegex      = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseServiceRef parses a service reference string.
//
// Supported formats:
//   - checks.info          (no version)
//   - checks.info@2        (major only)
//   - checks.info@1.4.0    (exact version)
//   - checks.info@^1.2.0   (caret range)
//   - checks.info@~1.2.0   (tilde range)
//   - checks.info@>=1.0.0  (comparison range)
func ParseServiceRef(input string) (*ParsedServiceRef, error) {
	raw := strings.TrimSpace(input)

	// Split on @ to separate service from version
	atIndex := strings.Index(raw, "@")

	var servicePart string
	var rangeStr string

	if atIndex == -1 {
		servicePart = raw
	} else {
		servicePart = raw[:atIndex]
		rangeStr = raw[atIndex+1:]
	}

	// Parse service part: app.name (name can have dots)
	firstDot := strings.Index(servicePart, ".")
	if firstDot == -1 {
		return nil, fmt.Errorf("%s - invalid service format, missing app: %s", logPrefix, raw)
	}

	app := servicePart[:firstDot]
	name := servicePart[firstDot+1:]

	if app == "" || name == "" {
		return nil, fmt.Errorf("%s - invalid service format: %s", logPrefix, raw)
	}

	return &ParsedServiceRef{
		Full:  servicePart,
		App:   app,
		Name:  name,
		Range: rangeStr,
		Raw:   raw,
	}, nil
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "2").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "1.4.0").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	var major int
	fmt.Sscanf(rangeStr, "%d", &major)
	return major
}

// BuildServiceRef builds a full service reference from parts.
func BuildServiceRef(app, name, version string) string {
	base := app + "." + name
	if version != "" {
		return base + "@" + version
	}
	return base
}

// ValidateServiceName validates a service name (allows letters, digits, dots, hyphens, underscores).
func ValidateServiceName(name string) bool {
	return serviceNameRegex.MatchString(name)
}

// ValidateAppName validates an app name (lowercase, alphanumeric, hyphens).
func ValidateAppName(app string) bool {
	return appNameRegex.MatchString(app)
}
