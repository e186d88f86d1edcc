package naming

import "strings"

// ToCanonicalID turns a display name into the identifier used for output
// directories, file names and URL routes: lowercase, with spaces and hyphens
// replaced by underscores.
func ToCanonicalID(name string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(name))
}
