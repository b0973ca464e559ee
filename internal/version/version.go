// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version houses the version information for coinreplay.
package version

import (
	"fmt"
	"regexp"
	"runtime/debug"
	"strconv"
)

// semverRE parses a semantic version string into its constituent parts.
var semverRE = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
	`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*` +
	`[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// Version is the application version per the semantic versioning 2.0.0 spec
// (https://semver.org/).
//
// It may be overridden with:
// '-ldflags "-X github.com/decred/coinview/internal/version.Version=fullsemver"'
//
// It MUST be a full semantic version or the package will panic at runtime.
var Version = "0.1.0-pre"

// SemVer holds the components of a semantic version.
type SemVer struct {
	Major         uint
	Minor         uint
	Patch         uint
	PreRelease    string
	BuildMetadata string
}

// String returns the version in its canonical form.
func (v *SemVer) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PreRelease != "" {
		s += "-" + v.PreRelease
	}
	if v.BuildMetadata != "" {
		s += "+" + v.BuildMetadata
	}
	return s
}

// Parse parses a semantic version string.
func Parse(s string) (*SemVer, error) {
	m := semverRE.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("malformed version string %q: does not "+
			"conform to semver specification", s)
	}

	var nums [3]uint
	for i, field := range []string{"major", "minor", "patch"} {
		val, err := strconv.ParseUint(m[i+1], 10, 0)
		if err != nil {
			return nil, fmt.Errorf("malformed semver %s: %w", field, err)
		}
		nums[i] = uint(val)
	}
	return &SemVer{
		Major:         nums[0],
		Minor:         nums[1],
		Patch:         nums[2],
		PreRelease:    m[4],
		BuildMetadata: m[5],
	}, nil
}

// current is the parsed application version.
var current = func() *SemVer {
	v, err := Parse(Version)
	if err != nil {
		panic(err)
	}
	if v.BuildMetadata == "" {
		v.BuildMetadata = vcsCommitID()
	}
	return v
}()

// vcsCommitID returns the abbreviated commit the binary was built from when
// the build embedded one.
func vcsCommitID() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var vcs, revision string
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs":
			vcs = bs.Value
		case "vcs.revision":
			revision = bs.Value
		}
	}
	if vcs != "git" {
		return revision
	}
	if len(revision) > 9 {
		revision = revision[:9]
	}
	return revision
}

// String returns the application version including the commit it was built
// from when known.
func String() string {
	return current.String()
}

// Current returns a copy of the parsed application version.
func Current() SemVer {
	return *current
}
