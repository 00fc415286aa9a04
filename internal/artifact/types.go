package artifact

import (
	"path"
	"strings"
)

// SourceUnit is the code under test, read once per run.
type SourceUnit struct {
	ID      string // qualified name, e.g. internal.patch.hunk
	Name    string // file base name without extension
	Package string // slash-separated directory relative to the project root
	Ext     string // extension including the dot
	Text    string
}

// Path returns the project-relative path of the source file.
func (u SourceUnit) Path() string {
	return path.Join(u.Package, u.Name+u.Ext)
}

// Artifact is the generated test file for a SourceUnit.
type Artifact struct {
	Path   string
	Text   string
	Exists bool
}

// Empty reports whether the artifact has no usable content yet.
func (a Artifact) Empty() bool {
	return strings.TrimSpace(a.Text) == ""
}

// Layout places test files at <TestRoot>/<package>/<Name><Suffix><Ext>.
type Layout struct {
	TestRoot string
	Suffix   string
}

// ArtifactPath returns the project-relative artifact path for unit.
func (l Layout) ArtifactPath(u SourceUnit) string {
	root := strings.Trim(l.TestRoot, "/")
	if root == "" {
		root = "."
	}
	return path.Join(root, u.Package, u.Name+l.Suffix+u.Ext)
}

func qualifiedName(pkg, name string) string {
	pkg = strings.Trim(pkg, "/.")
	if pkg == "" {
		return name
	}
	return strings.ReplaceAll(pkg, "/", ".") + "." + name
}
