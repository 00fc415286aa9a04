package artifact

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	defaultSymbolFiles     = 500
	defaultSymbolFileBytes = 256 * 1024
)

var errStopWalk = errors.New("stop walk")

// SymbolIndex finds the project file declaring a top-level identifier. It is the
// fallback for context references that name a type or function rather than a path.
type SymbolIndex struct {
	root         string
	ext          string
	maxFiles     int
	maxFileBytes int
}

// NewSymbolIndex scans at most maxFiles source files under root (0 = default).
func NewSymbolIndex(root, ext string, maxFiles int) *SymbolIndex {
	if maxFiles <= 0 {
		maxFiles = defaultSymbolFiles
	}
	return &SymbolIndex{root: root, ext: ext, maxFiles: maxFiles, maxFileBytes: defaultSymbolFileBytes}
}

type symbolHit struct {
	rel   string
	score int
}

// Lookup returns the project-relative path of the best file declaring name, or "".
// Files whose base name matches the identifier rank first; ties break by path.
func (x *SymbolIndex) Lookup(name string) string {
	if x == nil || !isIdent(name) {
		return ""
	}
	decl := regexp.MustCompile(`(?m)^(?:type\s+` + name + `\b|func\s+` + name + `\s*[\[(]|(?:var|const)\s+` + name + `\b)`)
	want := strings.ToLower(name)

	var (
		hits    []symbolHit
		scanned int
	)
	err := filepath.WalkDir(x.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != x.root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !x.isSource(d.Name()) {
			return nil
		}
		if scanned >= x.maxFiles {
			return errStopWalk
		}
		scanned++

		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		if len(data) > x.maxFileBytes {
			data = data[:x.maxFileBytes]
		}
		if !decl.Match(data) {
			return nil
		}
		rel, err := filepath.Rel(x.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		base := strings.TrimSuffix(path.Base(rel), path.Ext(rel))
		score := 1
		if strings.ReplaceAll(strings.ToLower(base), "_", "") == want {
			score = 2
		}
		hits = append(hits, symbolHit{rel: rel, score: score})
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return ""
	}
	if len(hits) == 0 {
		return ""
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score == hits[j].score {
			return hits[i].rel < hits[j].rel
		}
		return hits[i].score > hits[j].score
	})
	return hits[0].rel
}

func (x *SymbolIndex) isSource(name string) bool {
	if x.ext != "" && path.Ext(name) != x.ext {
		return false
	}
	return !strings.HasSuffix(strings.TrimSuffix(name, path.Ext(name)), "_test")
}

func skipDir(name string) bool {
	return name == "vendor" || name == "testdata" || name == "node_modules" ||
		strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func isIdent(s string) bool {
	return identRe.MatchString(s)
}

// symbolName is the last segment of a dotted or slashed reference, without ext.
func symbolName(ref, ext string) string {
	if ext != "" {
		ref = strings.TrimSuffix(ref, ext)
	}
	if i := strings.LastIndexAny(ref, "./"); i >= 0 {
		ref = ref[i+1:]
	}
	return ref
}
