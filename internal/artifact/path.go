package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathGuard keeps every resolved path inside a project root.
type PathGuard struct {
	BaseDir string
}

// NewPathGuard constructs a guard rooted at baseDir (defaults to current working directory).
func NewPathGuard(baseDir string) (*PathGuard, error) {
	if baseDir == "" {
		var err error
		baseDir, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	return &PathGuard{BaseDir: absBase}, nil
}

// Resolve validates and returns an absolute path inside BaseDir.
// Absolute inputs are accepted when they already point inside BaseDir.
func (g *PathGuard) Resolve(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	clean := filepath.Clean(p)
	abs := clean
	if !filepath.IsAbs(clean) {
		abs = filepath.Clean(filepath.Join(g.BaseDir, clean))
	}
	if !g.contains(abs) {
		return "", fmt.Errorf("path %q escapes project root", p)
	}
	return abs, nil
}

// Rel returns p relative to BaseDir using forward slashes.
func (g *PathGuard) Rel(p string) (string, error) {
	abs, err := g.Resolve(p)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(g.BaseDir, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (g *PathGuard) contains(abs string) bool {
	return abs == g.BaseDir || strings.HasPrefix(abs, g.BaseDir+string(os.PathSeparator))
}
