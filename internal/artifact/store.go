package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileStore reads source units and reads/writes test artifacts under a project root.
type FileStore struct {
	guard   *PathGuard
	layout  Layout
	history *History
}

// NewFileStore builds a store rooted at projectRoot. history may be nil.
func NewFileStore(projectRoot string, layout Layout, history *History) (*FileStore, error) {
	guard, err := NewPathGuard(projectRoot)
	if err != nil {
		return nil, err
	}
	if history != nil && history.Dir != "" && !filepath.IsAbs(history.Dir) {
		history.Dir = filepath.Join(guard.BaseDir, history.Dir)
	}
	return &FileStore{guard: guard, layout: layout, history: history}, nil
}

// Root returns the absolute project root.
func (s *FileStore) Root() string {
	return s.guard.BaseDir
}

// History returns the snapshot history, or nil when disabled.
func (s *FileStore) History() *History {
	return s.history
}

// LoadUnit reads a source file and derives its identity from its location.
func (s *FileStore) LoadUnit(p string) (SourceUnit, error) {
	rel, err := s.guard.Rel(p)
	if err != nil {
		return SourceUnit{}, err
	}
	data, err := os.ReadFile(filepath.Join(s.guard.BaseDir, filepath.FromSlash(rel)))
	if err != nil {
		return SourceUnit{}, fmt.Errorf("read source %s: %w", rel, err)
	}
	dir, file := path.Split(rel)
	ext := path.Ext(file)
	name := strings.TrimSuffix(file, ext)
	pkg := strings.TrimSuffix(dir, "/")
	return SourceUnit{
		ID:      qualifiedName(pkg, name),
		Name:    name,
		Package: pkg,
		Ext:     ext,
		Text:    string(data),
	}, nil
}

// Path returns the project-relative artifact path for unit.
func (s *FileStore) Path(u SourceUnit) string {
	return s.layout.ArtifactPath(u)
}

// Read returns the current artifact for unit; a missing file yields Exists=false.
func (s *FileStore) Read(u SourceUnit) (Artifact, error) {
	rel := s.Path(u)
	resolved, err := s.guard.Resolve(rel)
	if err != nil {
		return Artifact{}, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Artifact{Path: rel}, nil
		}
		return Artifact{}, fmt.Errorf("read artifact %s: %w", rel, err)
	}
	return Artifact{Path: rel, Text: string(data), Exists: true}, nil
}

// Write replaces the artifact content, creating directories on demand and
// recording a history snapshot when history is enabled.
func (s *FileStore) Write(u SourceUnit, text string) (Artifact, error) {
	rel := s.Path(u)
	if err := s.writeFile(rel, text); err != nil {
		return Artifact{}, err
	}
	if s.history != nil {
		if _, err := s.history.Record(rel, text); err != nil {
			return Artifact{}, fmt.Errorf("record snapshot for %s: %w", rel, err)
		}
	}
	return Artifact{Path: rel, Text: text, Exists: true}, nil
}

// Restore writes a recorded snapshot back to the artifact path (latest when id is empty).
func (s *FileStore) Restore(u SourceUnit, id string) (Snapshot, error) {
	if s.history == nil {
		return Snapshot{}, errors.New("history is disabled")
	}
	rel := s.Path(u)
	snap, text, err := s.history.Load(rel, id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.writeFile(rel, text); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ReadFile returns a project file's content.
func (s *FileStore) ReadFile(p string) (string, error) {
	resolved, err := s.guard.Resolve(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Stat returns file info for a path inside the project root.
func (s *FileStore) Stat(p string) (fs.FileInfo, error) {
	resolved, err := s.guard.Resolve(p)
	if err != nil {
		return nil, err
	}
	return os.Stat(resolved)
}

func (s *FileStore) writeFile(rel, text string) error {
	resolved, err := s.guard.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, []byte(text), 0o644)
}
