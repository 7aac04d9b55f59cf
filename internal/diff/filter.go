package diff

import "github.com/bmatcuk/doublestar/v4"

// FilterFiles applies include and exclude glob patterns to the file list.
// A file passes when the include list is empty or any include pattern
// matches its new path, and no exclude pattern matches. "**" spans path
// segments, "*" matches within a segment, "?" matches one character.
func FilterFiles(files []FileDiff, include, exclude []string) []FileDiff {
	var out []FileDiff
	for _, f := range files {
		if matchesAny(include, f.NewPath) || len(include) == 0 {
			if !matchesAny(exclude, f.NewPath) {
				out = append(out, f)
			}
		}
	}
	return out
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		// Invalid patterns never match
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}
