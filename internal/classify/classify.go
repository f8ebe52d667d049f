// Package classify decides which files are correctable and which
// directories the walker may enter.
package classify

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultMaxDepth is the deepest directory level below the root that is
// still traversed. The root itself is depth 0.
const DefaultMaxDepth = 10

var supportedExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".heic"}

// Directory names that are never entered, wherever they appear.
var ignoredDirectories = []string{
	".@__thumb",
	".thumbnails",
	"@eaDir",
	"Android",
	"lost+found",
	"node_modules",
}

// Path fragments of platform data and cache trees.
var ignoredPathFragments = []string{
	"/Android/data/",
	"/Android/obb/",
	"/.thumbnails",
}

// IsSupportedName reports whether name carries a supported image extension.
func IsSupportedName(name string) bool {
	return slices.Contains(supportedExtensions, strings.ToLower(filepath.Ext(name)))
}

// IsCorrectableFile reports whether path names an existing regular file with
// a supported image extension.
func IsCorrectableFile(path string) bool {
	if !IsSupportedName(path) {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// IsSkipped reports whether dir is excluded by name or path.
func IsSkipped(dir string) bool {
	name := filepath.Base(dir)
	if len(name) > 1 && name[0] == '.' {
		return true
	}
	if slices.Contains(ignoredDirectories, name) {
		return true
	}
	slashed := filepath.ToSlash(dir) + "/"
	for _, frag := range ignoredPathFragments {
		if strings.Contains(slashed, frag) {
			return true
		}
	}
	return false
}

// IsTraversable reports whether dir, found at depth below the root, may be
// listed: it must be within maxDepth, not skipped, and an accessible
// directory.
func IsTraversable(dir string, depth, maxDepth int) bool {
	if depth > maxDepth {
		return false
	}
	if IsSkipped(dir) {
		return false
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.Open(dir)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
