package bundle

import (
	"path"
	"strings"
)

// Canonicalize turns a raw file reference into a container key: forward
// slashes, no leading "/", no drive letter and no ".." segments. Absolute
// references keep only their final segment since the directories above them
// are machine specific. Canonicalize never fails and is idempotent.
func Canonicalize(raw string) string {
	p := strings.ReplaceAll(raw, "\\", "/")
	if p == "" {
		return ""
	}
	if isAbs(p) {
		return baseName(p)
	}
	clean := path.Clean(p)
	for clean == ".." || strings.HasPrefix(clean, "../") {
		clean = strings.TrimPrefix(strings.TrimPrefix(clean, ".."), "/")
	}
	if clean == "." || clean == "" {
		return ""
	}
	// Cleaning "a/../C:/x" surfaces a drive letter.
	if isAbs(clean) {
		return baseName(clean)
	}
	return clean
}

// JoinHint prefixes a directory hint onto a file reference the way the scene
// compiler resolves it: an absolute file ignores the hint.
func JoinHint(hint, file string) string {
	if file == "" {
		return ""
	}
	file = strings.ReplaceAll(file, "\\", "/")
	hint = strings.ReplaceAll(hint, "\\", "/")
	if hint == "" || isAbs(file) {
		return file
	}
	return path.Join(hint, file)
}

func isAbs(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	return hasDrive(p)
}

func hasDrive(p string) bool {
	if len(p) < 3 || p[1] != ':' || p[2] != '/' {
		return false
	}
	c := p[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func baseName(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	switch p {
	case "", ".", "..":
		return ""
	}
	if len(p) == 2 && p[1] == ':' {
		// bare drive, e.g. "C:/"
		return ""
	}
	return p
}

// safeEntryName reports whether name may be used as a container entry.
func safeEntryName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") || hasDrive(name) {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
