// Copyright (c) 2021-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package version

import (
	"reflect"
	"strings"
	"testing"
)

// TestParse ensures parsing a semantic version string works as expected.
func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ver     string
		want    SemVer
		invalid bool
	}{
		{ver: "0.0.4", want: SemVer{Patch: 4}},
		{ver: "10.20.30", want: SemVer{Major: 10, Minor: 20, Patch: 30}},
		{ver: "1.1.2-prerelease+meta", want: SemVer{Major: 1, Minor: 1,
			Patch: 2, PreRelease: "prerelease", BuildMetadata: "meta"}},
		{ver: "1.1.2+meta-valid", want: SemVer{Major: 1, Minor: 1, Patch: 2,
			BuildMetadata: "meta-valid"}},
		{ver: "1.0.0-alpha.beta.1", want: SemVer{Major: 1,
			PreRelease: "alpha.beta.1"}},
		{ver: "1", invalid: true},
		{ver: "1.2", invalid: true},
		{ver: "01.1.1", invalid: true},
		{ver: "1.2.3-0123", invalid: true},
		{ver: "1.2.3+meta+meta", invalid: true},
		{ver: "1.2.3-pre$", invalid: true},
		{ver: "99999999999999999999999.0.0", invalid: true},
	}

	for _, test := range tests {
		got, err := Parse(test.ver)
		if test.invalid {
			if err == nil {
				t.Errorf("%q: expected error", test.ver)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", test.ver, err)
			continue
		}
		if !reflect.DeepEqual(*got, test.want) {
			t.Errorf("%q: mismatched version -- got %+v, want %+v", test.ver,
				*got, test.want)
			continue
		}
		if got.String() != test.ver {
			t.Errorf("%q: mismatched string -- got %q", test.ver, got.String())
		}
	}
}

// TestString ensures the application version starts with the configured
// version.
func TestString(t *testing.T) {
	t.Parallel()

	cur := Current()
	if cur.Major != 0 || cur.Minor != 1 || cur.Patch != 0 ||
		cur.PreRelease != "pre" {
		t.Fatalf("unexpected current version %+v", cur)
	}
	if !strings.HasPrefix(String(), Version) {
		t.Fatalf("version %q does not start with %q", String(), Version)
	}
}
