package semver

import (
	"fmt"
	"sort"

	masterminds "github.com/Masterminds/semver/v3"
)

// VersionRecord represents one registered version of a service.
type VersionRecord struct {
	Major         int
	Minor         int
	Patch         int
	Prerelease    string
	VersionString string
}

// ToVersionString converts version components to a version string.
func ToVersionString(major, minor, patch int, prerelease string) string {
	base := fmt.Sprintf("%d.%d.%d", major, minor, patch)
	if prerelease != "" {
		return base + "-" + prerelease
	}
	return base
}

// NewVersionRecord builds a VersionRecord from a version string.
func NewVersionRecord(version string) (VersionRecord, error) {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return VersionRecord{}, fmt.Errorf("semver:resolver - invalid version %q: %w", version, err)
	}
	return VersionRecord{
		Major:         int(sv.Major()),
		Minor:         int(sv.Minor()),
		Patch:         int(sv.Patch()),
		Prerelease:    sv.Prerelease(),
		VersionString: ToVersionString(int(sv.Major()), int(sv.Minor()), int(sv.Patch()), sv.Prerelease()),
	}, nil
}

// ResolveVersion finds the best matching version for a given range. An empty
// range resolves to the latest version of the highest major, preferring
// stable releases over prereleases. Returns nil when nothing matches.
func ResolveVersion(versions []VersionRecord, rangeStr string) *VersionRecord {
	if len(versions) == 0 {
		return nil
	}

	// Case 1: no range - pick highest major's latest version
	if rangeStr == "" {
		return findLatestInMajor(versions, findHighestMajor(versions))
	}

	// Case 2: major-only range (e.g., "2")
	if IsMajorOnly(rangeStr) {
		return findLatestInMajor(versions, ExtractMajorFromRange(rangeStr))
	}

	// Case 3: SemVer range (e.g., "^1.2.0", "~1.2.0", ">=1.0.0 <2.0.0")
	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		// If range parsing fails, try as exact version
		return findExactVersion(versions, rangeStr)
	}

	var matching []VersionRecord
	for _, v := range versions {
		sv, err := masterminds.NewVersion(v.VersionString)
		if err != nil {
			continue
		}
		if constraint.Check(sv) {
			matching = append(matching, v)
		}
	}

	if len(matching) == 0 {
		return nil
	}

	sortVersionsDesc(matching)
	return &matching[0]
}

// GetUniqueMajors returns all unique major versions sorted descending.
func GetUniqueMajors(versions []VersionRecord) []int {
	seen := make(map[int]bool)
	var majors []int

	for _, v := range versions {
		if !seen[v.Major] {
			seen[v.Major] = true
			majors = append(majors, v.Major)
		}
	}

	sort.Sort(sort.Reverse(sort.IntSlice(majors)))
	return majors
}

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	if IsMajorOnly(rangeStr) {
		sv, err := masterminds.NewVersion(version)
		if err != nil {
			return false
		}
		return int(sv.Major()) == ExtractMajorFromRange(rangeStr)
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}

	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}

	return constraint.Check(sv)
}

// --- internal helpers ---

func findHighestMajor(versions []VersionRecord) int {
	highest := -1
	for _, v := range versions {
		if v.Major > highest {
			highest = v.Major
		}
	}
	return highest
}

func findLatestInMajor(versions []VersionRecord, major int) *VersionRecord {
	var inMajor []VersionRecord
	for _, v := range versions {
		if v.Major == major {
			inMajor = append(inMajor, v)
		}
	}

	if len(inMajor) == 0 {
		return nil
	}

	// Prefer latest stable (non-prerelease) in major; if none, use latest
	// including prerelease
	var stable []VersionRecord
	for _, v := range inMajor {
		if v.Prerelease == "" {
			stable = append(stable, v)
		}
	}
	candidates := inMajor
	if len(stable) > 0 {
		candidates = stable
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Minor != b.Minor {
			return a.Minor > b.Minor
		}
		return a.Patch > b.Patch
	})

	return &candidates[0]
}

func findExactVersion(versions []VersionRecord, versionStr string) *VersionRecord {
	for i := range versions {
		if versions[i].VersionString == versionStr {
			return &versions[i]
		}
	}
	return nil
}

func sortVersionsDesc(versions []VersionRecord) {
	sort.Slice(versions, func(i, j int) bool {
		vi, err1 := masterminds.NewVersion(versions[i].VersionString)
		vj, err2 := masterminds.NewVersion(versions[j].VersionString)
		if err1 != nil || err2 != nil {
			return false
		}
		return vi.GreaterThan(vj)
	})
}
