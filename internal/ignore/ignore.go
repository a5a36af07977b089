// Package ignore filters paths out of context scans.
//
// A Matcher combines gitignore-style files from the scanned tree with a
// built-in denylist of build artifacts, dependency directories, lock files,
// and binary assets. Patterns are matched with doublestar globs against
// slash-separated paths relative to the scan root.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultDenylist excludes paths that never belong in a context bundle.
var DefaultDenylist = []string{
	"**/.git/**",
	"**/.dispatchd/**",
	"**/.dispatchd.lock",
	"**/node_modules/**",
	"**/vendor/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/venv/**",
	"**/worktrees/**",
	"**/.idea/**",
	"**/.vscode/**",
	"**/*.lock",
	"**/package-lock.json",
	"**/go.sum",
	"**/*.min.js",
	"**/*.map",
	"**/*.png",
	"**/*.jpg",
	"**/*.gif",
	"**/*.pdf",
	"**/*.zip",
	"**/*.tar.gz",
	"**/*.so",
	"**/*.dylib",
	"**/*.exe",
	"**/*.bin",
}

// DefaultIgnoreFiles are the ignore files consulted in the scan root.
var DefaultIgnoreFiles = []string{".gitignore", ".contextignore"}

// Matcher answers whether a relative path is excluded from scanning.
type Matcher struct {
	patterns []string
}

// NewMatcher builds a matcher from explicit patterns. The default denylist
// is always applied; extra patterns extend it.
func NewMatcher(extra []string) *Matcher {
	patterns := make([]string, 0, len(DefaultDenylist)+len(extra))
	patterns = append(patterns, DefaultDenylist...)
	patterns = append(patterns, extra...)
	return &Matcher{patterns: dedupe(patterns)}
}

// ForTree builds a matcher for a scan root, adding patterns parsed from
// any ignore files present. Missing ignore files are fine; unreadable ones
// are an error.
func ForTree(root string) (*Matcher, error) {
	var extra []string
	for _, name := range DefaultIgnoreFiles {
		patterns, err := parseFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		extra = append(extra, patterns...)
	}
	return NewMatcher(extra), nil
}

// Match reports whether relPath (slash-separated, relative to the scan root)
// is excluded.
func (m *Matcher) Match(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
	}
	return false
}

// Patterns returns the active pattern list, for logging and reports.
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	return out
}

// parseFile reads a gitignore-style file into doublestar patterns.
func parseFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if p := parseLine(scanner.Text()); p != "" {
			patterns = append(patterns, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine converts one gitignore line to a doublestar pattern.
// Comments, blanks, and negations (unsupported) yield empty strings.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}

	anchored := strings.HasPrefix(line, "/")
	line = strings.TrimPrefix(line, "/")

	if strings.HasSuffix(line, "/") {
		line += "**"
	}

	// Unanchored bare names match at any depth.
	if !anchored && !strings.Contains(line, "/") && !strings.HasPrefix(line, "**/") {
		line = "**/" + line
	}

	// Bare directory names also exclude their contents.
	if !strings.HasSuffix(line, "/**") && !strings.ContainsAny(filepath.Base(line), "*.") {
		line += "/**"
	}

	return line
}

func dedupe(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
