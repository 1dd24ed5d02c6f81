// Package preproc implements the one directive the driver recognizes
// before handing source text to pkg/lexer: a line of the form
//
//	// stdlib: name1, name2
//
// which prepends the named library source files, in declaration order,
// ahead of the rest of the file. Unlike a general C preprocessor there
// are no macros, no conditionals and no `#include` syntax: a stdlib file
// is inlined as-is, and a `// stdlib:` line found inside a previously
// included stdlib file contributes its own libraries in turn, each
// expanded once.
package preproc

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var directiveRe = regexp.MustCompile(`^\s*//\s*stdlib\s*:\s*(.+?)\s*$`)

// Resolver locates a named stdlib module's source file given the
// directory search list it was configured with.
type Resolver struct {
	// Dirs is searched in order for "<name>.toy" when a `// stdlib:`
	// directive names a library that isn't already loaded.
	Dirs []string
}

// NewResolver builds a Resolver that searches dirs in order, plus the
// directory containing the file currently being expanded (pushed onto
// the front of the list by Expand itself).
func NewResolver(dirs ...string) *Resolver {
	return &Resolver{Dirs: dirs}
}

// Expand reads path, resolves every `// stdlib: a, b` directive
// transitively, and returns the fully assembled source text: each
// named library's contents first (in the order its names were listed,
// recursively expanded the same way), then the requesting file's own
// text with its directive lines left in place as comments for
// traceability.
func Expand(path string, r *Resolver) (string, error) {
	seen := make(map[string]bool)
	return expandFile(path, r, seen)
}

func expandFile(path string, r *Resolver, seen map[string]bool) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("preproc: %w", err)
	}
	return expandSource(string(raw), filepath.Dir(path), r, seen)
}

func expandSource(src, dir string, r *Resolver, seen map[string]bool) (string, error) {
	var out strings.Builder
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		m := directiveRe.FindStringSubmatch(line)
		if m == nil {
			out.WriteString(line)
			if i < len(lines)-1 {
				out.WriteString("\n")
			}
			continue
		}
		for _, name := range splitNames(m[1]) {
			if seen[name] {
				continue
			}
			seen[name] = true
			libPath, err := resolve(name, dir, r)
			if err != nil {
				return "", err
			}
			expanded, err := expandFile(libPath, r, seen)
			if err != nil {
				return "", err
			}
			out.WriteString(expanded)
			if !strings.HasSuffix(expanded, "\n") {
				out.WriteString("\n")
			}
		}
		out.WriteString(line)
		if i < len(lines)-1 {
			out.WriteString("\n")
		}
	}
	return out.String(), nil
}

func splitNames(list string) []string {
	var names []string
	for _, part := range strings.Split(list, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func resolve(name, callerDir string, r *Resolver) (string, error) {
	dirs := append([]string{callerDir}, r.Dirs...)
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name+".toy")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("preproc: stdlib module %q not found (searched %s)", name, strings.Join(dirs, ", "))
}
