// SPDX-License-Identifier: MIT
//
// Package build exposes metadata embedded at link time:
//
//	go build -ldflags "-X wsprcap/pkg/build.buildName=wsprcap \
//	  -X wsprcap/pkg/build.buildVersion=v0.3.0 ..."
//
// Development builds run with the defaults below; Initialize reports which
// flag is missing so release tooling can fail loudly.
package build

import (
	"fmt"
)

const (
	defaultName = "wsprcap"
	description = "Capture bridge feeding 12 kHz audio from a USB sound card to a WSPR decoder"
)

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String formats the version line printed by --version.
func (f *ldFlags) String() string {
	commit := f.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s (commit %s, built %s)", f.Version, commit, f.Time)
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = defaultFlags()
)

func defaultFlags() *ldFlags {
	return &ldFlags{
		Name:        defaultName,
		Description: description,
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "dev",
	}
}

// Initialize copies the ldflags variables into the build info. On error the
// development defaults stay in place.
func Initialize() error {
	if buildName == "" {
		return fmt.Errorf("BuildName is required")
	}
	if buildTime == "" {
		return fmt.Errorf("BuildTime is required")
	}
	if buildCommit == "" {
		return fmt.Errorf("BuildCommit is required")
	}
	if buildVersion == "" {
		return fmt.Errorf("BuildVersion is required")
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
