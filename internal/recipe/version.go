package recipe

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Archive suffixes stripped before looking for a version, longest first.
var archiveSuffixes = []string{
	".tar.gz", ".tar.xz", ".tar.zst", ".tar.bz2",
	".tgz", ".txz", ".tbz", ".tar", ".zip", ".gz", ".xz", ".zst",
}

// Matches a trailing version such as "v3025.10.2", "-1.2" or "_2.0.1rc1".
var trailingVersion = regexp.MustCompile(`(?i)(?:^|[-_.])v?(\d+(?:\.\d+)*(?:[-.]?(?:rc|alpha|beta|pre)\.?\d*)?)$`)

// Derives a version from a source URL's file name.
//
// Archive suffixes are removed, then the trailing version component is
// returned without its "v" prefix. Returns "" when the name carries no
// version.
//
//	.../archive/refs/tags/v3025.10.2.tar.gz  ->  3025.10.2
//	.../releases/foo-1.4.2.tar.xz            ->  1.4.2
func VersionFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	stem := strings.ToLower(path.Base(u.Path))
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(stem, suffix) {
			stem = strings.TrimSuffix(stem, suffix)
			break
		}
	}

	m := trailingVersion.FindStringSubmatch(stem)
	if m == nil {
		return ""
	}
	return m[1]
}

// Orders two version strings as semantic versions.
//
// ok is false when either version does not parse; such versions are only
// known to be equal or different.
func CompareVersions(a, b string) (cmp int, ok bool) {
	va, err := semver.NewVersion(a)
	if err != nil {
		return 0, false
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return 0, false
	}
	return va.Compare(vb), true
}
