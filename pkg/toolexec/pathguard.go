package toolexec

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Op is the kind of filesystem access being requested
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
	OpList  Op = "list"
)

// listDenylist names directory segments hidden from list and search
// operations even inside allowed roots
var listDenylist = map[string]bool{
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"vendor":       true,
	"__pycache__":  true,
}

// PathGuard maps path strings to absolute paths guaranteed inside the
// allowed roots. Policy is syntactic: paths are cleaned and compared as
// strings, symlinks are deliberately not resolved, so the same rule
// applies identically across every handler.
type PathGuard struct {
	root  string
	roots []string
	perms *Permissions
}

// NewPathGuard builds a guard for the given sandbox root plus any extra
// roots granted by the permissions file. Relative allow_paths entries
// are taken relative to the sandbox root.
func NewPathGuard(root string, perms *Permissions) (*PathGuard, error) {
	if root == "" {
		return nil, fmt.Errorf("sandbox root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root: %w", err)
	}

	roots := []string{abs}
	for _, p := range perms.AllowPaths {
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(abs, p)
		}
		roots = append(roots, filepath.Clean(p))
	}

	return &PathGuard{root: abs, roots: roots, perms: perms}, nil
}

// Root returns the sandbox root
func (g *PathGuard) Root() string {
	return g.root
}

// Resolve normalizes path into an absolute path, joining relative paths
// onto the sandbox root. No policy is applied here.
func (g *PathGuard) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(g.root, path)
}

// AssertAllowed fails with DENIED_PATH_ALLOWLIST when abs falls outside
// every allowed root, or when a list operation targets a denylisted
// segment (dotfiles, dependency and build directories). Traversal,
// denylist, and outside-root all collapse to the one code.
func (g *PathGuard) AssertAllowed(tool, abs string, op Op) error {
	inside := false
	for _, root := range g.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			inside = true
			break
		}
	}
	if !inside {
		return PathDeniedError(tool, abs, g.perms.FilePath())
	}

	if op == OpList && !g.isRoot(abs) {
		segment := filepath.Base(abs)
		if strings.HasPrefix(segment, ".") || listDenylist[segment] {
			return PathDeniedError(tool, abs, g.perms.FilePath())
		}
	}

	return nil
}

// ResolveAllowed is Resolve followed by AssertAllowed, returning the
// absolute path or the denial
func (g *PathGuard) ResolveAllowed(tool, path string, op Op) (string, error) {
	abs := g.Resolve(path)
	if err := g.AssertAllowed(tool, abs, op); err != nil {
		return "", err
	}
	return abs, nil
}

// isRoot reports whether abs is one of the configured roots themselves,
// which stay listable even when their own name would be denylisted
func (g *PathGuard) isRoot(abs string) bool {
	for _, root := range g.roots {
		if abs == root {
			return true
		}
	}
	return false
}
