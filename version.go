package gbtree

import "fmt"

// Version constants
const (
	// Major is the major version number
	Major = 0

	// Minor is the minor version number
	Minor = 1

	// Patch is the patch version number
	Patch = 0

	// FormatVersion is the version of the page and blob encodings
	FormatVersion = 1
)

// VersionInfo contains version information.
type VersionInfo struct {
	Major    uint8
	Minor    uint8
	Release  uint8
	Format   uint8
	Describe string
}

// Version returns the version string of gbtree.
func Version() string {
	return fmt.Sprintf("gbtree %d.%d.%d (format %d)", Major, Minor, Patch, FormatVersion)
}

// GetVersionInfo returns version information.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Major:    Major,
		Minor:    Minor,
		Release:  Patch,
		Format:   FormatVersion,
		Describe: fmt.Sprintf("v%d.%d.%d", Major, Minor, Patch),
	}
}
