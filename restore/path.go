package restore

import "strings"

// MapPath rewrites a snapshot path into the relative path it restores to.
//
// The first ":\" is dropped (turning "C:\Users" into "C\Users"); with
// replaceBackslash set, every backslash then becomes a slash; a leading
// slash is trimmed so the result joins under the restore root. Applying
// the mapping twice yields the same result as once.
func MapPath(p string, replaceBackslash bool) string {
	p = strings.Replace(p, ":\\", "\\", 1)
	if replaceBackslash {
		p = strings.ReplaceAll(p, "\\", "/")
	}
	return strings.TrimPrefix(p, "/")
}
