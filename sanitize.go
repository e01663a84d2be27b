package s6rc

import (
	"path/filepath"
	"strings"
)

// SanitizeDir splits fn into its directory and base name and joins them back
// with exactly one slash. It returns the joined path and the length of the
// directory prefix, slash included, so callers can address the compiled
// directory and its name separately.
//
//	SanitizeDir("/run/s6-rc/compiled") // "/run/s6-rc/compiled", 11
//	SanitizeDir("compiled")            // "./compiled", 2
func SanitizeDir(fn string) (string, int) {
	trimmed := strings.TrimRight(fn, "/")
	if trimmed == "" && fn != "" {
		trimmed = "/"
	}
	dir := filepath.Dir(trimmed)
	base := filepath.Base(trimmed)
	if dir != "/" {
		dir += "/"
	}
	return dir + base, len(dir)
}
