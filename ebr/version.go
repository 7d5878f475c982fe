package ebr

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// Version information for the reclamation engine.
const (
	// Version is the current version of the ebr package.
	Version = "v0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info describes the reclamation engine.
type Info struct {
	// Version is the package version string.
	Version string

	// Scheme is the reclamation scheme implemented.
	Scheme string

	// Slots is the number of reclamation queues cycled by the epoch.
	Slots int
}

// GetInfo returns information about the reclamation engine.
//
// Example:
//
//	info := ebr.GetInfo()
//	fmt.Printf("flize %s (%s)\n", info.Version, info.Scheme)
func GetInfo() Info {
	return Info{
		Version: Version,
		Scheme:  "epoch-based reclamation",
		Slots:   3,
	}
}

// Compatible reports whether this package satisfies the required version:
// same major version and not older. required must be a valid semantic
// version with a leading "v".
func Compatible(required string) (bool, error) {
	if !semver.IsValid(required) {
		return false, fmt.Errorf("invalid version %q", required)
	}
	if semver.Major(required) != semver.Major(Version) {
		return false, nil
	}
	return semver.Compare(Version, required) >= 0, nil
}
