package policy

import "strings"

// matchGlob implements the glob semantics spec.md §4.4 defines for
// PolicyRule.resourcePattern: '*' matches a single path segment, '**'
// matches any number of segments (including zero), and '{name}' matches a
// single segment (the capture itself is not needed by the resolver, only
// the match/no-match result). Matching is case-sensitive; '/' separates
// segments.
func matchGlob(pattern, path string) bool {
	patSegs := splitSegments(pattern)
	pathSegs := splitSegments(path)
	return matchSegments(patSegs, pathSegs)
}

func splitSegments(s string) []string {
	s = strings.Trim(s, "/")
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

func matchSegments(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}

	head := pat[0]
	if head == "**" {
		// '**' matches zero or more segments: try consuming 0..len(path).
		for i := 0; i <= len(path); i++ {
			if matchSegments(pat[1:], path[i:]) {
				return true
			}
		}
		return false
	}

	if len(path) == 0 {
		return false
	}

	if head == "*" || isCapture(head) {
		return matchSegments(pat[1:], path[1:])
	}
	if head != path[0] {
		return false
	}
	return matchSegments(pat[1:], path[1:])
}

func isCapture(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2
}
